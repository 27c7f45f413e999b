// Package config holds the feature flags and daemon configuration for
// fleetdb. Flags are passed explicitly into every entry point instead of
// living in ambient globals, so call-by-call variation is testable without
// global fixtures.
package config

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-yaml"
)

// Flags are the process-wide feature switches of the propagation subsystem.
type Flags struct {
	// EnableDDLPropagation gates propagation of database-level DDL from the
	// coordinator to worker nodes.
	EnableDDLPropagation bool `yaml:"enable_ddl_propagation"`

	// EnableCreateDatabasePropagation gates propagation of CREATE/DROP
	// DATABASE specifically, and the delegation of those statements from
	// shard databases to the control database.
	EnableCreateDatabasePropagation bool `yaml:"enable_create_database_propagation"`

	// EnableDatabaseSharding activates database-per-shard mode: whole
	// databases are assigned to node groups and connection isolation is
	// enforced cluster-wide.
	EnableDatabaseSharding bool `yaml:"enable_database_sharding"`

	// EnableMetadataSync mirrors shard registry mutations to every
	// metadata-holding node.
	EnableMetadataSync bool `yaml:"enable_metadata_sync"`

	// ControlDatabase names the database holding the authoritative catalog.
	ControlDatabase string `yaml:"control_database"`

	// PoolerConfigFile is the pgbouncer-style config target rewritten when a
	// committed transaction requested pooler reconfiguration. Empty disables
	// pooler integration.
	PoolerConfigFile string `yaml:"pooler_config_file"`
}

// Coordinator is the coordinator daemon configuration.
type Coordinator struct {
	Listen string `yaml:"listen"`
	// PublicAddr is the address this coordinator is reachable at, used as
	// the delegation target for DDL issued inside shard databases.
	PublicAddr string `yaml:"public_addr"`
	Flags      Flags  `yaml:"flags"`
}

// Node is the worker daemon configuration.
type Node struct {
	ID          string `yaml:"id"`
	Listen      string `yaml:"listen"`
	PublicAddr  string `yaml:"public_addr"`
	Coordinator string `yaml:"coordinator"`
	GroupID     int    `yaml:"group_id"`
	HasMetadata bool   `yaml:"has_metadata"`
	// PostgresDSN, when set, makes the node apply replayed DDL and privilege
	// changes to a real Postgres instance in addition to its local catalog.
	PostgresDSN string `yaml:"postgres_dsn"`
	Flags       Flags  `yaml:"flags"`
}

// DefaultFlags returns the flag values used when no config file overrides
// them.
func DefaultFlags() Flags {
	return Flags{
		EnableDDLPropagation:            true,
		EnableCreateDatabasePropagation: true,
		EnableDatabaseSharding:          false,
		EnableMetadataSync:              true,
		ControlDatabase:                 "fleetdb",
	}
}

// DefaultCoordinator returns the coordinator config used when the config
// file is absent.
func DefaultCoordinator() Coordinator {
	return Coordinator{
		Listen:     ":8080",
		PublicAddr: "http://127.0.0.1:8080",
		Flags:      DefaultFlags(),
	}
}

// DefaultNode returns the node config used when the config file is absent.
func DefaultNode() Node {
	return Node{
		Listen:      ":8081",
		PublicAddr:  "http://127.0.0.1:8081",
		Coordinator: "http://127.0.0.1:8080",
		GroupID:     1,
		HasMetadata: true,
		Flags:       DefaultFlags(),
	}
}

// LoadCoordinator reads a coordinator config file. A missing file yields the
// defaults, matching how the daemons behave with no config at all.
func LoadCoordinator(path string) (Coordinator, error) {
	cfg := DefaultCoordinator()
	if err := loadYAML(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadNode reads a node config file, falling back to defaults when absent.
func LoadNode(path string) (Node, error) {
	cfg := DefaultNode()
	if err := loadYAML(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadYAML(path string, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "parsing config %s", path)
	}
	return nil
}

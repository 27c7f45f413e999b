package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestLoadCoordinatorDefaults tests the defaults used with no config file
func TestLoadCoordinatorDefaults(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		cfg, err := LoadCoordinator("")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if cfg.Listen != ":8080" {
			t.Errorf("listen = %q", cfg.Listen)
		}
		if cfg.PublicAddr != "http://127.0.0.1:8080" {
			t.Errorf("public_addr = %q", cfg.PublicAddr)
		}
		if !cfg.Flags.EnableDDLPropagation || !cfg.Flags.EnableCreateDatabasePropagation {
			t.Error("propagation flags should default on")
		}
		if cfg.Flags.EnableDatabaseSharding {
			t.Error("sharding should default off")
		}
		if cfg.Flags.ControlDatabase != "fleetdb" {
			t.Errorf("control database = %q", cfg.Flags.ControlDatabase)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		cfg, err := LoadCoordinator(filepath.Join(t.TempDir(), "nope.yaml"))
		if err != nil {
			t.Fatalf("missing file should not error: %v", err)
		}
		if cfg.Listen != ":8080" {
			t.Errorf("listen = %q", cfg.Listen)
		}
	})
}

// TestLoadCoordinatorOverrides tests that a partial YAML file keeps the
// defaults for everything it does not mention
func TestLoadCoordinatorOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coordinator.yaml")
	content := `listen: ":9090"
flags:
  enable_database_sharding: true
  control_database: controldb
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadCoordinator(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":9090" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if !cfg.Flags.EnableDatabaseSharding {
		t.Error("sharding override lost")
	}
	if cfg.Flags.ControlDatabase != "controldb" {
		t.Errorf("control database = %q", cfg.Flags.ControlDatabase)
	}
	if cfg.PublicAddr != "http://127.0.0.1:8080" {
		t.Errorf("unmentioned public_addr should keep its default, got %q", cfg.PublicAddr)
	}
}

// TestLoadNode tests node config defaults and overrides
func TestLoadNode(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadNode("")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if cfg.Listen != ":8081" || cfg.Coordinator != "http://127.0.0.1:8080" {
			t.Errorf("unexpected defaults: %+v", cfg)
		}
		if !cfg.HasMetadata {
			t.Error("nodes should hold metadata by default")
		}
	})

	t.Run("overrides", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "node.yaml")
		content := `id: worker-1
group_id: 20
has_metadata: false
postgres_dsn: postgres://localhost/fleetdb
`
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		cfg, err := LoadNode(path)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if cfg.ID != "worker-1" || cfg.GroupID != 20 {
			t.Errorf("unexpected node identity: %+v", cfg)
		}
		if cfg.HasMetadata {
			t.Error("has_metadata override lost")
		}
		if cfg.PostgresDSN != "postgres://localhost/fleetdb" {
			t.Errorf("postgres_dsn = %q", cfg.PostgresDSN)
		}
		if cfg.Listen != ":8081" {
			t.Errorf("unmentioned listen should keep its default, got %q", cfg.Listen)
		}
	})
}

// TestLoadRejectsMalformedYAML tests the error path for unparseable config
func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("listen: [oops\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCoordinator(path); err == nil {
		t.Fatal("expected parse error")
	}
}

// Package pooler rewrites connection-pooler configuration from the shard
// registry. Reconfiguration requests are raised during a transaction and
// applied once at commit, coalesced across however many operations asked for
// one; the engine's commit hook calls Reconfigure.
package pooler

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/dreamware/fleetdb/internal/catalog"
	"github.com/dreamware/fleetdb/internal/cluster"
	"github.com/dreamware/fleetdb/internal/metrics"
)

// Manager rewrites a pgbouncer-style [databases] section so each database
// routes to a node of its assigned group.
type Manager struct {
	path   string
	logger *zap.Logger

	shards func() []catalog.ShardView
	nodes  func(groupID int) []cluster.NodeInfo
}

// NewManager creates a manager writing to path. shards supplies the current
// registry rows and nodes resolves a group to its nodes.
func NewManager(path string, shards func() []catalog.ShardView,
	nodes func(groupID int) []cluster.NodeInfo, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{path: path, logger: logger, shards: shards, nodes: nodes}
}

// Reconfigure regenerates the config file from the registry. The write is
// atomic: a temp file in the same directory is renamed over the target.
func (m *Manager) Reconfigure() {
	if m.path == "" {
		return
	}
	if err := m.writeConfig(); err != nil {
		// Pooler config lags until the next reconfigure; the registry itself
		// is unaffected.
		m.logger.Error("pooler reconfiguration failed", zap.Error(err))
		return
	}
	metrics.PoolerReconfigures.Inc()
	m.logger.Info("rewrote pooler configuration", zap.String("path", m.path))
}

func (m *Manager) writeConfig() error {
	rows := m.shards()
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].DatabaseName < rows[j].DatabaseName
	})

	var b strings.Builder
	b.WriteString("[databases]\n")
	for _, row := range rows {
		if !row.Available {
			continue
		}
		nodes := m.nodes(row.GroupID)
		if len(nodes) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s = host=%s\n", row.DatabaseName, hostOf(nodes[0]))
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".fleetdb-pooler-*")
	if err != nil {
		return errors.Wrap(err, "creating temp pooler config")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		return errors.Wrap(err, "writing pooler config")
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return errors.Wrap(os.Rename(tmp.Name(), m.path), "installing pooler config")
}

func hostOf(node cluster.NodeInfo) string {
	host := strings.TrimPrefix(node.Addr, "http://")
	host = strings.TrimPrefix(host, "https://")
	return strings.TrimRight(host, "/")
}

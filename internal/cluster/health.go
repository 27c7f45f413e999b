package cluster

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// NodeHealth tracks the health of a single node. Protected by the monitor's
// mutex when accessed through the monitor.
type NodeHealth struct {
	LastCheck        time.Time
	LastHealthy      time.Time
	NodeID           string
	GroupID          int
	Status           string // "healthy", "unhealthy", "unknown"
	ConsecutiveFails int
}

// HealthMonitor periodically probes the /health endpoint of every registered
// node. When a node crosses the failure threshold its node group is reported
// through the OnGroupUnhealthy callback, which the coordinator uses to mark
// that group's database shards unavailable; OnGroupRecovered undoes it.
type HealthMonitor struct {
	nodes            map[string]*NodeHealth
	httpClient       *http.Client
	checkFunc        func(addr string) error
	onGroupUnhealthy func(groupID int)
	onGroupRecovered func(groupID int)
	logger           *zap.Logger
	ctx              context.Context
	cancel           context.CancelFunc
	interval         time.Duration
	mu               sync.RWMutex
	wg               sync.WaitGroup
	maxFailures      int
}

// NewHealthMonitor creates a monitor that checks every interval and marks a
// node unhealthy after three consecutive failures.
func NewHealthMonitor(interval time.Duration, logger *zap.Logger) *HealthMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &HealthMonitor{
		interval:    interval,
		maxFailures: 3,
		nodes:       make(map[string]*NodeHealth),
		httpClient:  &http.Client{Timeout: 2 * time.Second},
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetGroupCallbacks installs the callbacks invoked when a node group changes
// health state. Must be called before Start.
func (h *HealthMonitor) SetGroupCallbacks(onUnhealthy, onRecovered func(groupID int)) {
	h.onGroupUnhealthy = onUnhealthy
	h.onGroupRecovered = onRecovered
}

// SetCheckFunction overrides the HTTP probe, for tests.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(addr string) error) {
	h.checkFunc = checkFunc
}

// Start runs the check loop until the context is canceled. It blocks; run it
// in a goroutine.
func (h *HealthMonitor) Start(ctx context.Context, nodeProvider func() []NodeInfo) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}
	if h.checkFunc == nil {
		h.checkFunc = h.defaultHealthCheck
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Info("health monitor started", zap.Duration("interval", h.interval))
	h.checkAllNodes(nodeProvider())

	for {
		select {
		case <-ticker.C:
			h.checkAllNodes(nodeProvider())
		case <-ctx.Done():
			h.logger.Info("health monitor stopping")
			return
		case <-h.ctx.Done():
			h.logger.Info("health monitor stopping")
			return
		}
	}
}

// Stop cancels the check loop and waits for it to finish.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}

func (h *HealthMonitor) checkAllNodes(nodes []NodeInfo) {
	current := make(map[string]bool)
	for _, node := range nodes {
		current[node.ID] = true
		h.checkNode(node)
	}

	// Drop nodes that left the cluster.
	h.mu.Lock()
	for nodeID := range h.nodes {
		if !current[nodeID] {
			delete(h.nodes, nodeID)
			h.logger.Info("removed node from health monitoring", zap.String("node", nodeID))
		}
	}
	h.mu.Unlock()
}

func (h *HealthMonitor) checkNode(node NodeInfo) {
	h.mu.Lock()
	health, exists := h.nodes[node.ID]
	if !exists {
		health = &NodeHealth{
			NodeID:      node.ID,
			GroupID:     node.GroupID,
			Status:      "unknown",
			LastCheck:   time.Now(),
			LastHealthy: time.Now(),
		}
		h.nodes[node.ID] = health
	}
	h.mu.Unlock()

	err := h.checkFunc(node.Addr)

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()
	if err != nil {
		health.ConsecutiveFails++
		h.logger.Warn("health check failed",
			zap.String("node", node.ID),
			zap.Int("attempt", health.ConsecutiveFails),
			zap.Error(err))

		if health.ConsecutiveFails >= h.maxFailures && health.Status != "unhealthy" {
			health.Status = "unhealthy"
			h.logger.Error("node marked unhealthy",
				zap.String("node", node.ID),
				zap.Int("group", node.GroupID))
			if h.onGroupUnhealthy != nil {
				// Callback runs without the lock held.
				go h.onGroupUnhealthy(node.GroupID)
			}
		}
		return
	}

	if health.Status == "unhealthy" {
		h.logger.Info("node recovered",
			zap.String("node", node.ID),
			zap.Int("group", node.GroupID))
		if h.onGroupRecovered != nil {
			go h.onGroupRecovered(node.GroupID)
		}
	}
	health.Status = "healthy"
	health.ConsecutiveFails = 0
	health.LastHealthy = time.Now()
}

func (h *HealthMonitor) defaultHealthCheck(addr string) error {
	url := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		url = fmt.Sprintf("http://%s", addr)
	}
	if !strings.HasSuffix(url, "/health") {
		url = strings.TrimRight(url, "/") + "/health"
	}

	resp, err := h.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// GetNodeHealth returns a copy of the health record for nodeID, or nil if the
// node is not monitored.
func (h *HealthMonitor) GetNodeHealth(nodeID string) *NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	health, exists := h.nodes[nodeID]
	if !exists {
		return nil
	}
	copied := *health
	return &copied
}

// IsHealthy reports whether nodeID is currently healthy. Unknown nodes are
// not healthy.
func (h *HealthMonitor) IsHealthy(nodeID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	health, exists := h.nodes[nodeID]
	return exists && health.Status == "healthy"
}

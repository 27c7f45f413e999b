package cluster

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
)

func waitForGroup(t *testing.T, ch chan int, want int) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("callback for group %d, want %d", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired")
	}
}

// TestHealthThreshold tests that a node is marked unhealthy only after three
// consecutive failures and the group callback fires once
func TestHealthThreshold(t *testing.T) {
	h := NewHealthMonitor(time.Minute, nil)
	unhealthy := make(chan int, 4)
	h.SetGroupCallbacks(func(g int) { unhealthy <- g }, nil)
	h.SetCheckFunction(func(string) error { return errors.New("connection refused") })

	nodes := []NodeInfo{{ID: "w1", Addr: "http://w1", GroupID: 20}}

	h.checkAllNodes(nodes)
	h.checkAllNodes(nodes)
	if h.IsHealthy("w1") {
		t.Error("node should not be healthy while failing")
	}
	if hl := h.GetNodeHealth("w1"); hl == nil || hl.Status == "unhealthy" {
		t.Errorf("expected node still below threshold, got %+v", hl)
	}
	select {
	case g := <-unhealthy:
		t.Fatalf("callback fired early for group %d", g)
	default:
	}

	h.checkAllNodes(nodes)
	waitForGroup(t, unhealthy, 20)
	if hl := h.GetNodeHealth("w1"); hl == nil || hl.Status != "unhealthy" {
		t.Errorf("expected unhealthy, got %+v", hl)
	}

	// Further failures do not re-fire the callback.
	h.checkAllNodes(nodes)
	select {
	case <-unhealthy:
		t.Fatal("callback fired again for an already unhealthy node")
	case <-time.After(100 * time.Millisecond):
	}
}

// TestHealthRecovery tests that a successful check after unhealthy fires the
// recovery callback and resets the failure count
func TestHealthRecovery(t *testing.T) {
	h := NewHealthMonitor(time.Minute, nil)
	unhealthy := make(chan int, 1)
	recovered := make(chan int, 1)
	h.SetGroupCallbacks(func(g int) { unhealthy <- g }, func(g int) { recovered <- g })

	failing := true
	h.SetCheckFunction(func(string) error {
		if failing {
			return errors.New("down")
		}
		return nil
	})

	nodes := []NodeInfo{{ID: "w1", Addr: "http://w1", GroupID: 20}}
	for i := 0; i < 3; i++ {
		h.checkAllNodes(nodes)
	}
	waitForGroup(t, unhealthy, 20)

	failing = false
	h.checkAllNodes(nodes)
	waitForGroup(t, recovered, 20)

	if !h.IsHealthy("w1") {
		t.Error("node should be healthy after recovery")
	}
	if hl := h.GetNodeHealth("w1"); hl == nil || hl.ConsecutiveFails != 0 {
		t.Errorf("expected failure count reset, got %+v", hl)
	}
}

// TestHealthForgetsDepartedNodes tests that nodes no longer registered are
// dropped from monitoring
func TestHealthForgetsDepartedNodes(t *testing.T) {
	h := NewHealthMonitor(time.Minute, nil)
	h.SetCheckFunction(func(string) error { return nil })

	h.checkAllNodes([]NodeInfo{
		{ID: "w1", Addr: "http://w1", GroupID: 20},
		{ID: "w2", Addr: "http://w2", GroupID: 30},
	})
	if !h.IsHealthy("w1") || !h.IsHealthy("w2") {
		t.Fatal("both nodes should be healthy")
	}

	h.checkAllNodes([]NodeInfo{{ID: "w1", Addr: "http://w1", GroupID: 20}})
	if h.GetNodeHealth("w2") != nil {
		t.Error("departed node should be forgotten")
	}
	if !h.IsHealthy("w1") {
		t.Error("remaining node should stay healthy")
	}
}

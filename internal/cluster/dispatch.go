package cluster

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dispatcher opens a connection to a node and executes one command against a
// database there. Implementations must return an error on any non-success so
// callers can abort the enclosing transaction; no dispatcher retries on its
// own.
type Dispatcher interface {
	Execute(ctx context.Context, node NodeInfo, database, command string) error
}

// HTTPDispatcher sends commands to a node's /exec endpoint. Each call gets a
// fresh correlation ID so a command can be traced across coordinator and node
// logs.
type HTTPDispatcher struct {
	logger *zap.Logger
	// Role is attached to every request as the acting role for ownership
	// checks on the remote side.
	Role string
}

// NewHTTPDispatcher creates a dispatcher that acts as role on remote nodes.
func NewHTTPDispatcher(role string, logger *zap.Logger) *HTTPDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPDispatcher{Role: role, logger: logger}
}

// Execute sends one command to node for execution against database.
func (d *HTTPDispatcher) Execute(ctx context.Context, node NodeInfo, database, command string) error {
	req := ExecRequest{
		Database:  database,
		Command:   command,
		Role:      d.Role,
		RequestID: uuid.NewString(),
	}
	d.logger.Debug("dispatching command",
		zap.String("node", node.ID),
		zap.String("database", database),
		zap.String("request_id", req.RequestID))

	var resp ExecResponse
	url := strings.TrimRight(node.Addr, "/") + "/exec"
	if err := PostJSON(ctx, url, req, &resp); err != nil {
		return errors.Wrapf(err, "executing on node %s", node.ID)
	}
	if resp.Error != "" {
		return errors.Newf("node %s: %s", node.ID, resp.Error)
	}
	return nil
}

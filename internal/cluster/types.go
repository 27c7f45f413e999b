package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// CoordinatorGroupID is the node group the coordinator itself belongs to.
// Databases assigned while no worker groups are registered land here.
const CoordinatorGroupID = 0

// NodeInfo identifies a node in the cluster and the group it serves.
type NodeInfo struct {
	ID          string `json:"id"`
	Addr        string `json:"addr"`
	GroupID     int    `json:"group_id"`
	HasMetadata bool   `json:"has_metadata"`
}

// RegisterRequest announces a node to the coordinator.
type RegisterRequest struct {
	Node NodeInfo `json:"node"`
}

// ExecRequest carries one command to a node for execution against a target
// database. Command is statement text: the textual form is the wire format,
// nodes parse it back into a structured statement at this boundary.
type ExecRequest struct {
	Database  string `json:"database"`
	Command   string `json:"command"`
	Role      string `json:"role"`
	RequestID string `json:"request_id"`
}

// ExecResponse reports the outcome of an ExecRequest.
type ExecResponse struct {
	Error string `json:"error,omitempty"`
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

// PostJSON posts body as JSON to url and, when out is non-nil, decodes the
// response into it. Status codes >= 300 are errors.
func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError(url, resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// statusError turns a non-2xx response into an error carrying the remote
// failure message, not just the status code.
func statusError(url string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var remote ExecResponse
	if json.Unmarshal(body, &remote) == nil && remote.Error != "" {
		return fmt.Errorf("http %s: %d: %s", url, resp.StatusCode, remote.Error)
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return fmt.Errorf("http %s: %d: %s", url, resp.StatusCode, msg)
	}
	return fmt.Errorf("http %s: %d", url, resp.StatusCode)
}

// GetJSON fetches url and decodes the JSON response into out.
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError(url, resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

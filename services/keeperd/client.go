package keeperd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// RPCError is a JSON-RPC error body returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("node rpc error %d: %s", e.Code, e.Message)
}

// IsNothingDue reports whether the node declined the sweep because no
// vested amount was payable.
func IsNothingDue(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	return strings.Contains(rpcErr.Message, "nothing due")
}

// ReleaseResult mirrors the node's yield_releaseFromActive result.
type ReleaseResult struct {
	Caller   string `json:"caller"`
	Released int    `json:"released"`
	Active   int    `json:"active"`
}

// NodeClient is a lightweight JSON-RPC client for the node's yield surface.
type NodeClient struct {
	endpoint string
	token    string
	http     *http.Client
	nextID   atomic.Int64
}

// NewNodeClient constructs a client for the node RPC listener.
func NewNodeClient(endpoint, token string, timeout time.Duration) *NodeClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NodeClient{
		endpoint: strings.TrimSpace(endpoint),
		token:    strings.TrimSpace(token),
		http:     &http.Client{Timeout: timeout},
	}
}

// ReleaseFromActive asks the node to pay out due amounts across the active
// set, at most max distributions. corrID rides as both the correlation and
// idempotency header so a duplicated request cannot double-sweep.
func (c *NodeClient) ReleaseFromActive(ctx context.Context, caller string, max int, corrID string) (ReleaseResult, error) {
	params := map[string]interface{}{"from": caller}
	if max > 0 {
		params["max"] = max
	}
	headers := map[string]string{
		"X-Correlation-ID": corrID,
		"Idempotency-Key":  corrID,
	}
	var result ReleaseResult
	if err := c.call(ctx, "yield_releaseFromActive", params, headers, &result); err != nil {
		return ReleaseResult{}, err
	}
	return result, nil
}

func (c *NodeClient) call(ctx context.Context, method string, params interface{}, headers map[string]string, out interface{}) error {
	id := c.nextID.Add(1)
	bodyStruct := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  []interface{}{params},
	}
	buf, err := json.Marshal(bodyStruct)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for key, value := range headers {
		if strings.TrimSpace(value) != "" {
			req.Header.Set(key, value)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("node rpc %s: decode response: %w", method, err)
	}
	// Error bodies arrive with a non-200 status; the typed error is more
	// useful than the status line.
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node rpc %s failed: status=%d", method, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return fmt.Errorf("node rpc %s returned empty result", method)
	}
	return json.Unmarshal(rpcResp.Result, out)
}

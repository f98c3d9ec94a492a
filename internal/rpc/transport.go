package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/R3E-Network/bridge_client/internal/errors"
	"github.com/R3E-Network/bridge_client/internal/metrics"
)

// Transport carries one JSON-RPC call to the signer network.
type Transport interface {
	Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
}

// RPCRequest is a JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      uint64      `json:"id"`
}

// RPCError is an error object returned by the signer network.
type RPCError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

// Error implements error.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// HTTPTransport posts JSON-RPC requests to a lightnode.
type HTTPTransport struct {
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
	nextID     atomic.Uint64
}

// HTTPConfig holds transport configuration.
type HTTPConfig struct {
	URL     string
	Timeout time.Duration
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
	Burst     int
}

// NewHTTPTransport creates a transport for cfg.URL.
func NewHTTPTransport(cfg HTTPConfig) (*HTTPTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &HTTPTransport{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}, nil
}

// Call makes a JSON-RPC call and returns the raw result.
//
// Connection failures, timeouts and 429/5xx responses are TransientNetwork
// errors. An error object in the response is returned as *RPCError.
func (t *HTTPTransport) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	start := time.Now()
	result, err := t.call(ctx, method, params)

	outcome := "ok"
	switch {
	case err == nil:
	case errors.IsTransient(err):
		outcome = "transient"
	default:
		outcome = "error"
	}
	metrics.RecordRPCCall(method, outcome, time.Since(start))
	return result, err
}

func (t *HTTPTransport) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, errors.Cancelled(err)
	}

	req := RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      t.nextID.Add(1),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Cancelled(ctx.Err())
		}
		return nil, errors.TransientNetwork(fmt.Errorf("execute request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.TransientNetwork(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, errors.TransientNetwork(fmt.Errorf("request failed: %s - %s", resp.Status, truncate(respBody)))
	}

	if !gjson.ValidBytes(respBody) {
		return nil, fmt.Errorf("unmarshal response: invalid JSON (status %s)", resp.Status)
	}

	if rpcErr := gjson.GetBytes(respBody, "error"); rpcErr.Exists() && rpcErr.Type != gjson.Null {
		return nil, &RPCError{
			Code:    rpcErr.Get("code").Int(),
			Message: rpcErr.Get("message").String(),
		}
	}

	result := gjson.GetBytes(respBody, "result")
	if !result.Exists() {
		return nil, fmt.Errorf("unmarshal response: missing result (status %s)", resp.Status)
	}
	return json.RawMessage(result.Raw), nil
}

func truncate(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

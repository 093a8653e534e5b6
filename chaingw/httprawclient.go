package chaingw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPRawClient is a JSON-RPC 2.0 over HTTP RawClient, the concrete
// transport the run command wires into SDK. Grounded on
// probetransport.Client's direct net/http.Client usage rather than a
// generic RPC library; unlike probetransport it uses the default
// transport with a single request timeout and no separate connect
// timeout, since the chain gateway endpoint is a
// single plain HTTP JSON-RPC node, not the multi-protocol surface
// probetransport dials.
type HTTPRawClient struct {
	endpoint string
	http     *http.Client
}

// NewHTTPRawClient builds an HTTPRawClient against endpoint (a JSON-RPC
// HTTP URL), using timeout as the per-call request budget.
func NewHTTPRawClient(endpoint string, timeout time.Duration) *HTTPRawClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPRawClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("chaingw: rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *HTTPRawClient) do(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("chaingw: marshal rpc request %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("chaingw: build rpc request %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chaingw: rpc call %s: %w", method, err)
	}
	defer resp.Body.Close()

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("chaingw: decode rpc response %s: %w", method, err)
	}
	if rr.Error != nil {
		return nil, rr.Error
	}
	return rr.Result, nil
}

// Call issues a read-only JSON-RPC call and decodes its result into
// result.
func (c *HTTPRawClient) Call(ctx context.Context, method string, params, result interface{}) error {
	raw, err := c.do(ctx, method, params)
	if err != nil {
		return err
	}
	if result == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("chaingw: unmarshal rpc result %s: %w", method, err)
	}
	return nil
}

// SendTransaction issues a state-changing JSON-RPC call, returning the
// transaction hash the node replies with.
func (c *HTTPRawClient) SendTransaction(ctx context.Context, method string, params interface{}) (string, error) {
	raw, err := c.do(ctx, method, params)
	if err != nil {
		return "", err
	}
	var txHash string
	if err := json.Unmarshal(raw, &txHash); err != nil {
		return "", fmt.Errorf("chaingw: unmarshal tx hash %s: %w", method, err)
	}
	return txHash, nil
}

// Package wallet is a client for an external signing agent that speaks
// Ethereum JSON-RPC.
package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/margin/broker"
)

// Provider error codes (EIP-1193) and JSON-RPC method-not-found.
const (
	codeUserRejected   = 4001
	codeUnauthorized   = 4100
	codeDisconnected   = 4900
	codeChainDisconn   = 4901
	codeMethodNotFound = -32601
)

type Client struct {
	URL  string
	HTTP *http.Client
	Log  *logrus.Logger

	seq atomic.Int64
}

var _ broker.Signer = (*Client)(nil)

func New(url string, log *logrus.Logger) *Client {
	return &Client{
		URL:  url,
		HTTP: &http.Client{Timeout: 2 * time.Minute},
		Log:  log,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// Address returns the agent's first account.
func (c *Client) Address(ctx context.Context) (string, error) {
	var accounts []string
	if err := c.call(ctx, "eth_accounts", nil, &accounts); err != nil {
		return "", err
	}
	if len(accounts) == 0 || accounts[0] == "" {
		return "", fmt.Errorf("%w: agent has no accounts", broker.ErrSigningUnavailable)
	}
	return accounts[0], nil
}

// SignTransaction signs tx with the active account. A descriptor whose
// From differs from that account fails with *broker.AddressMismatchError
// before the agent is asked to sign.
func (c *Client) SignTransaction(ctx context.Context, tx broker.UnsignedTx) (string, error) {
	active, err := c.Address(ctx)
	if err != nil {
		return "", err
	}
	if tx.From != "" && !broker.SameAddress(tx.From, active) {
		return "", &broker.AddressMismatchError{Expected: tx.From, Actual: active}
	}

	params := map[string]string{
		"from":     active,
		"to":       tx.To,
		"gas":      tx.GasLimit,
		"gasPrice": tx.GasPrice,
		"value":    tx.Value,
		"data":     tx.Data,
	}
	if tx.Nonce != "" {
		params["nonce"] = tx.Nonce
	}
	if tx.ChainID != "" {
		params["chainId"] = tx.ChainID
	}

	var raw json.RawMessage
	if err := c.call(ctx, "eth_signTransaction", []any{params}, &raw); err != nil {
		return "", err
	}
	signed, err := decodeSigned(raw)
	if err != nil {
		return "", err
	}

	c.logger().WithFields(logrus.Fields{"from": active, "to": tx.To}).Info("transaction signed")
	return signed, nil
}

// decodeSigned accepts a bare hex string or geth's {"raw": ..., "tx": ...}.
func decodeSigned(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s, nil
	}
	var obj struct {
		Raw string `json:"raw"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Raw != "" {
		return obj.Raw, nil
	}
	return "", fmt.Errorf("%w: unexpected sign result %s", broker.ErrSigningUnavailable, trim(string(raw)))
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	if c.URL == "" {
		return fmt.Errorf("%w: no agent configured", broker.ErrSigningUnavailable)
	}
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.seq.Add(1), Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", broker.ErrSigningUnavailable, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", broker.ErrSigningUnavailable, method, err)
	}

	var rr rpcResponse
	if err := json.Unmarshal(b, &rr); err != nil {
		return fmt.Errorf("%w: %s http %d: %s", broker.ErrSigningUnavailable, method, resp.StatusCode, trim(string(b)))
	}
	if rr.Error != nil {
		return classify(method, rr.Error)
	}
	if err := json.Unmarshal(rr.Result, out); err != nil {
		return fmt.Errorf("%w: decode %s result: %v", broker.ErrSigningUnavailable, method, err)
	}
	return nil
}

func classify(method string, e *rpcError) error {
	switch e.Code {
	case codeUserRejected:
		return fmt.Errorf("%s: %w", method, broker.ErrSigningRejected)
	case codeUnauthorized, codeDisconnected, codeChainDisconn, codeMethodNotFound:
		return fmt.Errorf("%s: %w: %v", method, broker.ErrSigningUnavailable, e)
	default:
		return fmt.Errorf("%s: %w", method, e)
	}
}

func (c *Client) logger() *logrus.Logger {
	if c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log
}

func trim(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

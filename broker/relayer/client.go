// Package relayer talks to the margin venue: the REST gateway and the
// websocket push channel.
package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/rustyeddy/margin/broker"
)

const (
	// AuthHeader carries the session token.
	AuthHeader = "Hydro-Authentication"

	statusAuthExpired = -11
	maxBodyBytes      = 4 << 20
)

// Client implements broker.Gateway over the venue's REST API.
type Client struct {
	BaseURL string // e.g. https://api.example.com/api
	Token   string
	HTTP    *http.Client
	Limiter *rate.Limiter
	Log     *logrus.Logger
}

var _ broker.Gateway = (*Client)(nil)

// New returns a Client with a 15s HTTP timeout and a limiter of rps
// requests per second. rps <= 0 disables limiting.
func New(baseURL, token string, rps float64, log *logrus.Logger) *Client {
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
		Log:     log,
	}
	if rps > 0 {
		c.Limiter = rate.NewLimiter(rate.Limit(rps), 5)
	}
	return c
}

// envelope is the venue's response wrapper.
type envelope struct {
	Status int             `json:"status"`
	Desc   string          `json:"desc"`
	Data   json.RawMessage `json:"data"`
}

func (c *Client) logger() *logrus.Logger {
	if c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log
}

func (c *Client) url(path string, q url.Values) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, q, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	target, err := c.url(path, q)
	if err != nil {
		return err
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set(AuthHeader, c.Token)
	}

	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: rate limit: %v", broker.ErrNetwork, err)
		}
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", broker.ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", broker.ErrNetwork, path, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return fmt.Errorf("%w: %s http %d: %s", broker.ErrNetwork, path, resp.StatusCode, trimForErr(string(raw)))
		}
		return fmt.Errorf("%w: decode %s: %v", broker.ErrNetwork, path, err)
	}

	c.logger().WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"http":   resp.StatusCode,
		"status": env.Status,
	}).Debug("relayer response")

	if env.Status == statusAuthExpired {
		return fmt.Errorf("%w: %s", broker.ErrAuthExpired, env.Desc)
	}
	if env.Status != 0 || !hasData(env.Data) {
		return broker.NewDomainError(env.Status, env.Desc)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return broker.NewDomainError(env.Status, fmt.Sprintf("Invalid response structure: %v", err))
	}
	return nil
}

func hasData(d json.RawMessage) bool {
	s := strings.TrimSpace(string(d))
	return s != "" && s != "null"
}

func trimForErr(s string) string {
	const n = 200
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

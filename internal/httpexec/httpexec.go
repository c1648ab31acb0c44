// Package httpexec dispatches HTTP requests on behalf of scripts and the
// collection runner. Requests and responses cross the boundary as plain
// data so callers never hold transport handles.
package httpexec

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/quailhq/quail/internal/qerr"
)

// Request is one outbound HTTP request in canonical form.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    any
	Timeout time.Duration
}

// Response is the canonical result of one dispatched request.
type Response struct {
	Status     string
	StatusCode int
	Headers    map[string]string
	Body       string
	Duration   time.Duration
}

// Dispatcher executes canonical requests.
type Dispatcher interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Client is the resty-backed Dispatcher.
type Client struct {
	resty *resty.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the per-request default timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.resty.SetTimeout(d) }
}

// WithRetries enables retries with resty's default backoff.
func WithRetries(n int) ClientOption {
	return func(c *Client) { c.resty.SetRetryCount(n) }
}

// NewClient creates a dispatcher with sane defaults.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{resty: resty.New().SetTimeout(30 * time.Second)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do executes one request and returns its canonical response. Transport
// failures (refused connections, DNS, timeouts) are errors; HTTP error
// statuses are not.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if req.URL == "" {
		return nil, qerr.New(qerr.ErrBadArgument, "request url is required")
	}
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	r := c.resty.R().SetContext(ctx)
	if len(req.Headers) > 0 {
		r.SetHeaders(req.Headers)
	}
	if req.Body != nil {
		r.SetBody(req.Body)
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
		r.SetContext(ctx)
	}

	resp, err := r.Execute(method, req.URL)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, qerr.Wrapf(qerr.ErrDispatchTimeout, err, "request to %s timed out", req.URL)
		}
		return nil, qerr.Wrapf(qerr.ErrDispatch, err, "request to %s failed", req.URL)
	}

	headers := make(map[string]string, len(resp.Header()))
	for name := range resp.Header() {
		headers[name] = resp.Header().Get(name)
	}
	return &Response{
		Status:     resp.Status(),
		StatusCode: resp.StatusCode(),
		Headers:    headers,
		Body:       string(resp.Body()),
		Duration:   resp.Time(),
	}, nil
}

// FromConfig builds a canonical request from a script-provided config map.
// Unknown keys are ignored; timeout is in milliseconds.
func FromConfig(config map[string]any) (*Request, error) {
	req := &Request{}
	if v, ok := config["url"].(string); ok {
		req.URL = v
	}
	if req.URL == "" {
		return nil, qerr.New(qerr.ErrBadArgument, "request config requires a url")
	}
	if v, ok := config["method"].(string); ok {
		req.Method = v
	}
	if raw, ok := config["headers"].(map[string]any); ok {
		req.Headers = make(map[string]string, len(raw))
		for name, v := range raw {
			if s, ok := v.(string); ok {
				req.Headers[name] = s
			}
		}
	}
	if v, ok := config["body"]; ok {
		req.Body = v
	}
	if ms, ok := config["timeout"].(float64); ok && ms > 0 {
		req.Timeout = time.Duration(ms) * time.Millisecond
	}
	if data, ok := config["data"]; ok && req.Body == nil {
		req.Body = data
	}
	return req, nil
}

// ToMap renders a response in the plain-data shape scripts receive.
func (r *Response) ToMap() map[string]any {
	headers := make(map[string]any, len(r.Headers))
	for name, v := range r.Headers {
		headers[name] = v
	}
	return map[string]any{
		"status":     float64(r.StatusCode),
		"statusText": r.Status,
		"headers":    headers,
		"body":       decodeBody(r.Body),
		"duration":   float64(r.Duration.Milliseconds()),
	}
}

// decodeBody surfaces JSON bodies as structured data, everything else as
// the raw string.
func decodeBody(body string) any {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return body
	}
	switch trimmed[0] {
	case '{', '[':
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return body
}

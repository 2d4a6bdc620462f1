// Package apiclient is a small Go client for the tradedesk JSON API. Every
// response is decoded from the {success, message, data} envelope; failures
// come back as *APIError.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/keithlinneman/tradedesk/internal/otelx"
	"github.com/keithlinneman/tradedesk/internal/xerrors"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 64 << 10
)

type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default client. Its transport is used as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New returns a client for the API rooted at baseURL. The default HTTP client
// carries trace context through otelx.Transport.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, xerrors.Wrap(err, "parse base url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, xerrors.Newf("base url %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, xerrors.Newf("base url %q: missing host", baseURL)
	}
	c := &Client{
		base: u,
		http: &http.Client{Timeout: defaultTimeout, Transport: otelx.Transport(nil)},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) SetToken(token string) { c.token = token }

func (c *Client) Token() string { return c.token }

type envelope struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	Errors     []FieldError    `json:"errors"`
	RetryAfter int             `json:"retryAfter"`
}

// do sends the request and decodes data into out (when non-nil). The
// envelope message is returned for operations that report one.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, contentType string, body io.Reader, out any) (string, error) {
	u := *c.base
	u.Path = c.base.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return "", xerrors.Wrapf(err, "build %s %s", method, path)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", xerrors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	var env envelope
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes(resp.StatusCode)))
	if err := dec.Decode(&env); err != nil {
		if resp.StatusCode >= 400 {
			return "", &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return "", xerrors.Wrapf(err, "decode %s %s response", method, path)
	}

	if resp.StatusCode >= 400 || !env.Success {
		apiErr := &APIError{
			Status:     resp.StatusCode,
			Message:    env.Message,
			RetryAfter: time.Duration(env.RetryAfter) * time.Second,
			Fields:     env.Errors,
		}
		if apiErr.RetryAfter == 0 {
			if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && s > 0 {
				apiErr.RetryAfter = time.Duration(s) * time.Second
			}
		}
		return "", apiErr
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return "", xerrors.Wrapf(err, "decode %s %s data", method, path)
		}
	}
	return env.Message, nil
}

func maxResponseBytes(status int) int64 {
	if status >= 400 {
		return maxErrorBody
	}
	return 32 << 20
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	_, err := c.do(ctx, http.MethodGet, path, query, "", nil, out)
	return err
}

func (c *Client) sendJSON(ctx context.Context, method, path string, in, out any) (string, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return "", fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(b)
	}
	return c.do(ctx, method, path, nil, "application/json", body, out)
}

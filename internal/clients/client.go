// Package clients provides Go clients for the library HTTP API. Each client
// satisfies the matching service interface, so callers can swap a local
// service for a remote one.
package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"librarium/internal/httpx"
)

// Option configures a client.
type Option func(*client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.http = hc
	}
}

// WithToken sends the token as a Bearer Authorization header.
func WithToken(token string) Option {
	return func(c *client) {
		c.token = token
	}
}

type client struct {
	baseURL string
	http    *http.Client
	token   string
}

func newClient(baseURL string, opts []Option) client {
	c := client{baseURL: strings.TrimRight(baseURL, "/"), http: http.DefaultClient}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// do sends a request and decodes a 2xx body into out. Error bodies are
// turned back into the service errors they were written from.
func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := httpx.JSON.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e httpx.ErrorResponse
		_ = httpx.JSON.NewDecoder(resp.Body).Decode(&e)
		return httpx.ErrorFromCode(resp.StatusCode, e)
	}

	if out == nil {
		return nil
	}
	if err := httpx.JSON.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

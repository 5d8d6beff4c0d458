// Package client is a thin convenience wrapper for CLI tools to call the
// Warden daemon’s JSON API over a Unix‑domain socket. It re‑exports the DTOs
// from pkg/api so callers get strongly‑typed results instead of generic maps.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/mjs/warden/internal/clients"
	"github.com/mjs/warden/internal/socket"
	"github.com/mjs/warden/pkg/api"
)

// Client holds an http.Client wired to a Unix socket.
type Client struct {
	hc   *http.Client
	base string // dummy scheme+host for Request.URL (http://unix)
}

// New returns a Client that dials the given Unix‑domain socket path.
// Dialing goes through socket.ConnectContext, so a CLI invoked right after
// the daemon was started retries until the socket appears.
func New(socketPath string) *Client {
	dial := func(ctx context.Context, _, _ string) (net.Conn, error) {
		return socket.ConnectContext(ctx, socketPath)
	}
	tr := &http.Transport{DialContext: dial}
	return &Client{hc: &http.Client{Transport: tr}, base: "http://unix"}
}

// --------------------------- commands ------------------------------

// Register asks the daemon to supervise the process with the given pid.
// It returns the created client record.
func (c *Client) Register(ctx context.Context, pid int) (clients.Client, error) {
	var out clients.Client
	err := c.post(ctx, "/v1/register", api.RegisterRequest{PID: pid}, &out)
	return out, err
}

// Unregister asks the daemon to drop the process with the given pid.
func (c *Client) Unregister(ctx context.Context, pid int) error {
	return c.post(ctx, "/v1/unregister", api.UnregisterRequest{PID: pid}, nil)
}

// Reload asks the daemon to reload its configuration file.
func (c *Client) Reload(ctx context.Context) error {
	return c.post(ctx, "/v1/reload", nil, nil)
}

// Status retrieves the current status of the daemon.
func (c *Client) Status(ctx context.Context) (api.StatusResponse, error) {
	var out api.StatusResponse
	err := c.get(ctx, "/v1/status", &out)
	return out, err
}

// Clients retrieves the currently registered clients.
func (c *Client) Clients(ctx context.Context) ([]clients.Client, error) {
	var out []clients.Client
	err := c.get(ctx, "/v1/clients", &out)
	return out, err
}

// Config retrieves a snapshot of the daemon's loaded configuration.
func (c *Client) Config(ctx context.Context) (api.ConfigResponse, error) {
	var out api.ConfigResponse
	err := c.get(ctx, "/v1/config", &out)
	return out, err
}

// Check asks the daemon how its filter lists treat a client name.
func (c *Client) Check(ctx context.Context, name string) (api.CheckResponse, error) {
	var out api.CheckResponse
	err := c.get(ctx, "/v1/check?client="+url.QueryEscape(name), &out)
	return out, err
}

// --------------------------- HTTP helpers --------------------------

func (c *Client) post(ctx context.Context, path string, payload, v any) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.base+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return responseError(resp)
	}
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.base+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return responseError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// responseError surfaces the daemon's error text when the body carries one.
func responseError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if text := strings.TrimSpace(string(msg)); text != "" {
		return fmt.Errorf("daemon returned %s: %s", resp.Status, text)
	}
	return fmt.Errorf("daemon returned %s", resp.Status)
}

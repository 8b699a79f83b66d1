// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package client provides an HTTP client for the foreman daemon API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tombee/foreman/internal/orchestrator"
	"github.com/tombee/foreman/internal/registry"
	"github.com/tombee/foreman/internal/store"
)

// Client is a client for the foreman daemon API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	endpoint   string
}

// Option configures a Client.
type Option func(*Client)

// WithTransport sets the transport used to reach the daemon.
func WithTransport(transport *Transport) Option {
	return func(c *Client) {
		c.httpClient = &http.Client{Transport: transport}
		if transport.SocketPath != "" {
			c.endpoint = transport.SocketPath
		} else {
			c.endpoint = transport.TCPAddr
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithBaseURL overrides the base URL. Used in tests against httptest
// servers.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
		c.endpoint = baseURL
	}
}

// New creates a daemon client with the given options.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL: "http://foreman", // placeholder host for Unix sockets
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	return c
}

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Message)
}

// QueueExecution submits a new execution request.
func (c *Client) QueueExecution(ctx context.Context, spec store.Spec) (*store.Execution, error) {
	var exec store.Execution
	if err := c.post(ctx, "/api/v1/executions", spec, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

// GetExecution fetches one execution by ID.
func (c *Client) GetExecution(ctx context.Context, id string) (*store.Execution, error) {
	var exec store.Execution
	if err := c.get(ctx, "/api/v1/executions/"+url.PathEscape(id), &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

// ListExecutions lists executions with the given status.
func (c *Client) ListExecutions(ctx context.Context, status store.Status) ([]*store.Execution, error) {
	path := "/api/v1/executions"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}

	var body struct {
		Executions []*store.Execution `json:"executions"`
	}
	if err := c.get(ctx, path, &body); err != nil {
		return nil, err
	}
	return body.Executions, nil
}

// History lists archived terminal executions, oldest first.
func (c *Client) History(ctx context.Context) ([]*store.Execution, error) {
	var body struct {
		Executions []*store.Execution `json:"executions"`
	}
	if err := c.get(ctx, "/api/v1/executions/history", &body); err != nil {
		return nil, err
	}
	return body.Executions, nil
}

// ReportResult reports a completed execution's results.
func (c *Client) ReportResult(ctx context.Context, id string, result store.Result) (*store.Execution, error) {
	var exec store.Execution
	body := map[string]any{"result": result}
	if err := c.post(ctx, "/api/v1/executions/"+url.PathEscape(id)+"/result", body, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

// ReportFailure reports an execution failure.
func (c *Client) ReportFailure(ctx context.Context, id, message string) (*store.Execution, error) {
	var exec store.Execution
	body := map[string]any{"error": message}
	if err := c.post(ctx, "/api/v1/executions/"+url.PathEscape(id)+"/result", body, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

// Cancel cancels an execution.
func (c *Client) Cancel(ctx context.Context, id string) (*store.Execution, error) {
	var exec store.Execution
	if err := c.post(ctx, "/api/v1/executions/"+url.PathEscape(id)+"/cancel", struct{}{}, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

// Runners lists registered runners.
func (c *Client) Runners(ctx context.Context) ([]*registry.Runner, error) {
	var body struct {
		Runners []*registry.Runner `json:"runners"`
	}
	if err := c.get(ctx, "/api/v1/runners", &body); err != nil {
		return nil, err
	}
	return body.Runners, nil
}

// Status returns an engine-wide status summary.
func (c *Client) Status(ctx context.Context) (*orchestrator.Status, error) {
	var status orchestrator.Status
	if err := c.get(ctx, "/api/v1/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Ping checks if the daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	var body map[string]string
	return c.get(ctx, "/healthz", &body)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if IsDaemonNotRunning(err) {
			return &DaemonNotRunningError{Endpoint: c.endpoint, Err: err}
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(data, &apiErr); err != nil || apiErr.Error == "" {
			apiErr.Error = string(data)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

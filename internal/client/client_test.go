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

package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tombee/foreman/internal/store"
)

func TestClient_QueueExecution(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/executions" {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}

		var spec store.Spec
		if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
			t.Fatalf("Failed to decode spec: %v", err)
		}
		if spec.Suite != "unit" {
			t.Errorf("Expected suite unit, got %s", spec.Suite)
		}

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(store.Execution{ID: "exec-1", Status: store.StatusQueued})
	}))
	defer server.Close()

	c := New(WithBaseURL(server.URL))
	exec, err := c.QueueExecution(context.Background(), store.Spec{Suite: "unit", Environment: "ci"})
	if err != nil {
		t.Fatalf("QueueExecution failed: %v", err)
	}
	if exec.ID != "exec-1" || exec.Status != store.StatusQueued {
		t.Errorf("Unexpected execution: %+v", exec)
	}
}

func TestClient_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "execution not found: missing"})
	}))
	defer server.Close()

	c := New(WithBaseURL(server.URL))
	_, err := c.GetExecution(context.Background(), "missing")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", apiErr.StatusCode)
	}
}

func TestClient_ListExecutions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("status"); got != "running" {
			t.Errorf("Expected status=running, got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"executions": []store.Execution{{ID: "a"}, {ID: "b"}},
		})
	}))
	defer server.Close()

	c := New(WithBaseURL(server.URL))
	execs, err := c.ListExecutions(context.Background(), store.StatusRunning)
	if err != nil {
		t.Fatalf("ListExecutions failed: %v", err)
	}
	if len(execs) != 2 {
		t.Errorf("Expected 2 executions, got %d", len(execs))
	}
}

func TestClient_DaemonNotRunning(t *testing.T) {
	c := New(WithTransport(NewUnixTransport("/nonexistent/foreman.sock")))

	err := c.Ping(context.Background())
	if !IsDaemonNotRunning(err) {
		t.Fatalf("Expected daemon-not-running error, got %v", err)
	}
}

func TestParseHost(t *testing.T) {
	tr, err := ParseHost("unix:///run/foreman.sock")
	if err != nil || tr.SocketPath != "/run/foreman.sock" {
		t.Errorf("Unexpected unix transport: %+v, %v", tr, err)
	}

	tr, err = ParseHost("tcp://localhost:8720")
	if err != nil || tr.TCPAddr != "localhost:8720" {
		t.Errorf("Unexpected tcp transport: %+v, %v", tr, err)
	}

	if _, err := ParseHost("ftp://nope"); err == nil {
		t.Error("Expected error for unsupported scheme")
	}
}

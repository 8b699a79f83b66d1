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

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tombee/foreman/internal/registry"
	"github.com/tombee/foreman/internal/store"
)

// TypeDocker is the runner type served by the Docker adapter.
const TypeDocker = "docker"

const dockerAPIVersion = "v1.43"

// DockerAdapter triggers executions as containers through the Docker
// Engine API.
//
// Runner settings:
//   - image: container image to run, required
//   - host: engine endpoint, either unix:///path/to/docker.sock or a
//     tcp:// / http:// address (default unix:///var/run/docker.sock)
//   - command: optional command override, space separated
type DockerAdapter struct {
	mu      sync.Mutex
	clients map[string]*http.Client
}

// NewDockerAdapter creates a Docker adapter.
func NewDockerAdapter() *DockerAdapter {
	return &DockerAdapter{clients: make(map[string]*http.Client)}
}

// Type implements Adapter.
func (a *DockerAdapter) Type() string {
	return TypeDocker
}

// Trigger implements Adapter. The container is created with the suite
// and environment passed as environment variables, then started; the
// container ID is the run handle.
func (a *DockerAdapter) Trigger(ctx context.Context, exec *store.Execution, runner *registry.Runner) (*RunHandle, error) {
	image := runner.Settings["image"]
	if image == "" {
		return nil, NewError(TypeDocker, exec.ID, "runner setting image is required", nil)
	}

	createPayload := map[string]any{
		"Image": image,
		"Env": []string{
			"FOREMAN_SUITE=" + exec.Suite,
			"FOREMAN_ENVIRONMENT=" + exec.Environment,
			"FOREMAN_EXECUTION_ID=" + exec.ID,
		},
		"Labels": map[string]string{
			"foreman.execution_id": exec.ID,
			"foreman.suite":        exec.Suite,
		},
	}
	if command := runner.Settings["command"]; command != "" {
		createPayload["Cmd"] = strings.Fields(command)
	}
	body, err := json.Marshal(createPayload)
	if err != nil {
		return nil, NewError(TypeDocker, exec.ID, "failed to encode container config", err)
	}

	client, baseURL := a.clientFor(runner)

	createURL := fmt.Sprintf("%s/%s/containers/create?name=foreman-%s", baseURL, dockerAPIVersion, exec.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, createURL, bytes.NewReader(body))
	if err != nil {
		return nil, NewError(TypeDocker, exec.ID, "failed to build create request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, NewError(TypeDocker, exec.ID, "container create failed", err)
	}
	var created struct {
		ID string `json:"Id"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, &Error{
			Backend:     TypeDocker,
			ExecutionID: exec.ID,
			StatusCode:  resp.StatusCode,
			Message:     "container create rejected",
		}
	}
	if decodeErr != nil || created.ID == "" {
		return nil, NewError(TypeDocker, exec.ID, "failed to decode create response", decodeErr)
	}

	startURL := fmt.Sprintf("%s/%s/containers/%s/start", baseURL, dockerAPIVersion, created.ID)
	startReq, err := http.NewRequestWithContext(ctx, http.MethodPost, startURL, nil)
	if err != nil {
		return nil, NewError(TypeDocker, exec.ID, "failed to build start request", err)
	}
	startResp, err := client.Do(startReq)
	if err != nil {
		return nil, NewError(TypeDocker, exec.ID, "container start failed", err)
	}
	startResp.Body.Close()

	if startResp.StatusCode != http.StatusNoContent {
		return nil, &Error{
			Backend:     TypeDocker,
			ExecutionID: exec.ID,
			StatusCode:  startResp.StatusCode,
			Message:     "container start rejected",
		}
	}

	return &RunHandle{RunID: created.ID}, nil
}

// Cancel implements Canceller by stopping the container.
func (a *DockerAdapter) Cancel(ctx context.Context, exec *store.Execution, runner *registry.Runner) error {
	if exec.ExternalRunID == "" {
		return nil
	}
	client, baseURL := a.clientFor(runner)

	stopURL := fmt.Sprintf("%s/%s/containers/%s/stop?t=10", baseURL, dockerAPIVersion, exec.ExternalRunID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, stopURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	// 304 means the container already stopped on its own.
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotModified {
		return fmt.Errorf("container stop rejected with status %d", resp.StatusCode)
	}
	return nil
}

// clientFor returns the HTTP client and base URL for a runner's engine
// endpoint. Unix socket hosts get a dedicated client with a socket
// dialer; clients are cached per host.
func (a *DockerAdapter) clientFor(runner *registry.Runner) (*http.Client, string) {
	host := runner.Settings["host"]
	if host == "" {
		host = "unix:///var/run/docker.sock"
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if client, ok := a.clients[host]; ok {
		return client, baseURLFor(host)
	}

	var client *http.Client
	if socketPath, ok := strings.CutPrefix(host, "unix://"); ok {
		client = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		}
	} else {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	a.clients[host] = client
	return client, baseURLFor(host)
}

func baseURLFor(host string) string {
	if strings.HasPrefix(host, "unix://") {
		// Host part is ignored by the socket dialer.
		return "http://docker"
	}
	if after, ok := strings.CutPrefix(host, "tcp://"); ok {
		return "http://" + after
	}
	return strings.TrimSuffix(host, "/")
}

var (
	_ Adapter   = (*DockerAdapter)(nil)
	_ Canceller = (*DockerAdapter)(nil)
)

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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ForemanHostEnv selects the daemon endpoint (unix:// or tcp://).
const ForemanHostEnv = "FOREMAN_HOST"

// DefaultSocketPath returns the default Unix socket path for the daemon.
func DefaultSocketPath() (string, error) {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "foreman", "foreman.sock"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".foreman", "foreman.sock"), nil
}

// ParseHost parses a FOREMAN_HOST value into a transport. Supported
// forms are unix:///path/to/socket and tcp://host:port. An empty host
// selects the default socket path.
func ParseHost(host string) (*Transport, error) {
	if host == "" {
		return DefaultTransport()
	}

	switch {
	case strings.HasPrefix(host, "unix://"):
		return NewUnixTransport(strings.TrimPrefix(host, "unix://")), nil
	case strings.HasPrefix(host, "tcp://"):
		return NewTCPTransport(strings.TrimPrefix(host, "tcp://")), nil
	default:
		return nil, fmt.Errorf("invalid FOREMAN_HOST format: %s (must start with unix:// or tcp://)", host)
	}
}

// FromEnvironment creates a client configured from environment variables.
func FromEnvironment() (*Client, error) {
	transport, err := ParseHost(os.Getenv(ForemanHostEnv))
	if err != nil {
		return nil, err
	}
	return New(WithTransport(transport)), nil
}

// DaemonNotRunningError indicates the daemon is not reachable.
type DaemonNotRunningError struct {
	Endpoint string
	Err      error
}

func (e *DaemonNotRunningError) Error() string {
	return fmt.Sprintf("foreman daemon is not running (endpoint: %s)", e.Endpoint)
}

func (e *DaemonNotRunningError) Unwrap() error {
	return e.Err
}

// IsDaemonNotRunning checks if an error indicates the daemon is not running.
func IsDaemonNotRunning(err error) bool {
	if err == nil {
		return false
	}

	var dnr *DaemonNotRunningError
	if errors.As(err, &dnr) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such file or directory")
}

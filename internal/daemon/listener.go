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

package daemon

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/tombee/foreman/internal/config"
)

// listeners opens the configured listen endpoints. A stale Unix socket
// left by a crashed daemon is removed before binding.
func listeners(cfg config.ListenConfig) ([]net.Listener, error) {
	var result []net.Listener

	if cfg.SocketPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.SocketPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create socket directory: %w", err)
		}
		if err := os.Remove(cfg.SocketPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale socket: %w", err)
		}

		ln, err := net.Listen("unix", cfg.SocketPath)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on socket %s: %w", cfg.SocketPath, err)
		}
		if err := os.Chmod(cfg.SocketPath, 0o600); err != nil {
			ln.Close()
			return nil, fmt.Errorf("failed to restrict socket permissions: %w", err)
		}
		result = append(result, ln)
	}

	if cfg.TCPAddr != "" {
		ln, err := net.Listen("tcp", cfg.TCPAddr)
		if err != nil {
			closeAll(result)
			return nil, fmt.Errorf("failed to listen on %s: %w", cfg.TCPAddr, err)
		}
		result = append(result, ln)
	}

	if len(result) == 0 {
		return nil, fmt.Errorf("no listen endpoints configured")
	}
	return result, nil
}

func closeAll(lns []net.Listener) {
	for _, ln := range lns {
		ln.Close()
	}
}

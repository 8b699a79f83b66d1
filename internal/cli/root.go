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

// Package cli implements the foreman command-line client.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/foreman/internal/client"
)

// Version information, set from main.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Global flag values shared across commands.
var (
	flagHost string
	flagJSON bool
)

// SetVersion sets the version information (called from main).
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// NewRootCommand creates the root Cobra command for foreman.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "foreman",
		Short: "Foreman - CI test execution orchestration",
		Long: `Foreman queues test-suite executions and dispatches them to CI
runners (GitHub Actions, Azure DevOps, Jenkins, Docker). The foreman
command talks to a running foremand daemon over its API socket.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	cmd.PersistentFlags().StringVar(&flagHost, "host", "", "Daemon endpoint (unix:///path or tcp://host:port)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Output in JSON format")

	cmd.AddCommand(
		newQueueCommand(),
		newGetCommand(),
		newListCommand(),
		newHistoryCommand(),
		newCancelCommand(),
		newResultCommand(),
		newRunnersCommand(),
		newStatusCommand(),
		newVersionCommand(),
	)
	cmd.SetHelpCommand(newHelpCommand(cmd))

	return cmd
}

// newClient builds a daemon client honoring --host and FOREMAN_HOST.
func newClient() (*client.Client, error) {
	host := flagHost
	if host == "" {
		host = os.Getenv(client.ForemanHostEnv)
	}

	transport, err := client.ParseHost(host)
	if err != nil {
		return nil, err
	}
	return client.New(client.WithTransport(transport)), nil
}

// HandleExitError prints an error and exits non-zero. Daemon
// connectivity problems get a hint about starting foremand.
func HandleExitError(err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, RenderError(err.Error()))
	if client.IsDaemonNotRunning(err) {
		fmt.Fprintln(os.Stderr, Muted.Render("Start the daemon with: foremand"))
	}
	os.Exit(1)
}

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

package cli

import (
	"fmt"
	"os"
	"runtime"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/foreman/internal/registry"
	"github.com/tombee/foreman/internal/store"
)

func newRunnersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "runners",
		Short: "List registered runners",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}

			runners, err := c.Runners(cmd.Context())
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(runners)
			}
			printRunnerTable(runners)
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show engine status summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}

			status, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(status)
			}

			fmt.Println(Header.Render("Executions"))
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, s := range []store.Status{store.StatusQueued, store.StatusAssigned, store.StatusRunning} {
				fmt.Fprintf(w, "%s\t%d\n", Muted.Render(string(s)), status.Executions[s])
			}
			fmt.Fprintf(w, "%s\t%d\n", Muted.Render("finished"), status.History)
			w.Flush()

			fmt.Println()
			fmt.Println(Header.Render("Runners"))
			printRunnerTable(status.Runners)

			if len(status.Usage) > 0 {
				fmt.Println()
				fmt.Println(Header.Render("Resource usage"))
				w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				for runner, usage := range status.Usage {
					fmt.Fprintf(w, "%s\t%d cpu\t%d MB\t%d executions\n",
						runner, usage.CPUUnits, usage.MemoryMB, usage.Executions)
				}
				w.Flush()
			}
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("foreman %s (commit: %s, built: %s, %s/%s)\n",
				version, commit, buildDate, runtime.GOOS, runtime.GOARCH)
		},
	}
}

func printRunnerTable(runners []*registry.Runner) {
	if len(runners) == 0 {
		fmt.Println(Muted.Render("no runners"))
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, Header.Render("ID")+"\t"+Header.Render("TYPE")+"\t"+Header.Render("HEALTH")+"\t"+Header.Render("JOBS")+"\t"+Header.Render("PRIORITY"))
	for _, r := range runners {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\n",
			r.ID, r.Type, renderHealth(r.Health), r.CurrentJobs, r.MaxConcurrentJobs, r.Priority)
	}
	w.Flush()
}

func renderHealth(h registry.HealthStatus) string {
	switch h {
	case registry.HealthHealthy:
		return StatusOK.Render(string(h))
	case registry.HealthUnhealthy:
		return StatusError.Render(string(h))
	default:
		return Muted.Render(string(h))
	}
}

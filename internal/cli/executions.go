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
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/foreman/internal/store"
)

func newQueueCommand() *cobra.Command {
	var (
		priority    int
		runnerID    string
		runnerType  string
		metadata    []string
		estDuration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "queue <suite> <environment>",
		Short: "Queue a test-suite execution",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}

			spec := store.Spec{
				Suite:               args[0],
				Environment:         args[1],
				Priority:            priority,
				RequestedRunnerID:   runnerID,
				RequestedRunnerType: runnerType,
				EstimatedDuration:   estDuration,
			}
			spec.Metadata, err = parseMetadata(metadata)
			if err != nil {
				return err
			}

			exec, err := c.QueueExecution(cmd.Context(), spec)
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(exec)
			}
			fmt.Println(RenderOK("queued " + Bold.Render(exec.ID)))
			return nil
		},
	}

	cmd.Flags().IntVarP(&priority, "priority", "p", 0, "Scheduling priority (higher first)")
	cmd.Flags().StringVar(&runnerID, "runner", "", "Pin to a specific runner ID")
	cmd.Flags().StringVar(&runnerType, "runner-type", "", "Restrict to a runner type")
	cmd.Flags().StringArrayVar(&metadata, "meta", nil, "Metadata key=value (repeatable)")
	cmd.Flags().DurationVar(&estDuration, "estimated-duration", 0, "Estimated run duration")

	return cmd
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <execution-id>",
		Short: "Show one execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}

			exec, err := c.GetExecution(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(exec)
			}
			printExecution(exec)
			return nil
		},
	}
}

func newListCommand() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List executions by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}

			execs, err := c.ListExecutions(cmd.Context(), store.Status(status))
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(execs)
			}
			printExecutionTable(execs)
			return nil
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "queued", "Status to list (queued, assigned, running)")
	return cmd
}

func newHistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List finished executions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}

			execs, err := c.History(cmd.Context())
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(execs)
			}
			printExecutionTable(execs)
			return nil
		},
	}
}

func newCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <execution-id>",
		Short: "Cancel an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}

			exec, err := c.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(exec)
			}
			fmt.Println(RenderOK("cancelled " + Bold.Render(exec.ID)))
			return nil
		},
	}
}

func newResultCommand() *cobra.Command {
	var (
		total    int
		passed   int
		failed   int
		duration float64
		failure  string
	)

	cmd := &cobra.Command{
		Use:   "result <execution-id>",
		Short: "Report an execution's outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}

			var exec *store.Execution
			if failure != "" {
				exec, err = c.ReportFailure(cmd.Context(), args[0], failure)
			} else {
				exec, err = c.ReportResult(cmd.Context(), args[0], store.Result{
					Total:           total,
					Passed:          passed,
					Failed:          failed,
					DurationSeconds: duration,
				})
			}
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(exec)
			}
			fmt.Printf("%s %s is %s\n", RenderOK("reported"), Bold.Render(exec.ID), RenderExecutionStatus(exec.Status))
			return nil
		},
	}

	cmd.Flags().IntVar(&total, "total", 0, "Total test count")
	cmd.Flags().IntVar(&passed, "passed", 0, "Passed test count")
	cmd.Flags().IntVar(&failed, "failed", 0, "Failed test count")
	cmd.Flags().Float64Var(&duration, "duration", 0, "Suite duration in seconds")
	cmd.Flags().StringVar(&failure, "error", "", "Report a failure with this message instead of results")

	return cmd
}

// parseMetadata splits key=value flags into a map.
func parseMetadata(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	meta := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := splitPair(pair)
		if !ok {
			return nil, fmt.Errorf("invalid metadata %q (expected key=value)", pair)
		}
		meta[key] = value
	}
	return meta, nil
}

func splitPair(pair string) (string, string, bool) {
	for i := 0; i < len(pair); i++ {
		if pair[i] == '=' {
			if i == 0 {
				return "", "", false
			}
			return pair[:i], pair[i+1:], true
		}
	}
	return "", "", false
}

func printExecution(exec *store.Execution) {
	fmt.Println(Header.Render("Execution " + exec.ID))
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "%s\t%s\n", Muted.Render("status"), RenderExecutionStatus(exec.Status))
	fmt.Fprintf(w, "%s\t%s\n", Muted.Render("suite"), exec.Suite)
	fmt.Fprintf(w, "%s\t%s\n", Muted.Render("environment"), exec.Environment)
	fmt.Fprintf(w, "%s\t%d\n", Muted.Render("priority"), exec.Priority)
	if exec.AssignedRunnerID != "" {
		fmt.Fprintf(w, "%s\t%s\n", Muted.Render("runner"), exec.AssignedRunnerID)
	}
	if exec.ExternalRunURL != "" {
		fmt.Fprintf(w, "%s\t%s\n", Muted.Render("run url"), exec.ExternalRunURL)
	}
	if exec.Result != nil {
		fmt.Fprintf(w, "%s\t%d/%d passed (%.1fs)\n", Muted.Render("result"),
			exec.Result.Passed, exec.Result.Total, exec.Result.DurationSeconds)
	}
	if exec.Error != "" {
		fmt.Fprintf(w, "%s\t%s\n", Muted.Render("error"), StatusError.Render(exec.Error))
	}
	fmt.Fprintf(w, "%s\t%s\n", Muted.Render("created"), exec.CreatedAt.Format(time.RFC3339))
	w.Flush()
}

func printExecutionTable(execs []*store.Execution) {
	if len(execs) == 0 {
		fmt.Println(Muted.Render("no executions"))
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, Header.Render("ID")+"\t"+Header.Render("SUITE")+"\t"+Header.Render("ENV")+"\t"+Header.Render("STATUS")+"\t"+Header.Render("RUNNER"))
	for _, exec := range execs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			exec.ID, exec.Suite, exec.Environment,
			RenderExecutionStatus(exec.Status), exec.AssignedRunnerID)
	}
	w.Flush()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

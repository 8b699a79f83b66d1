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

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// CommandMetadata represents metadata about a command for JSON output
type CommandMetadata struct {
	Name        string         `json:"name"`
	Short       string         `json:"short"`
	Long        string         `json:"long,omitempty"`
	Usage       string         `json:"usage"`
	Flags       []FlagMetadata `json:"flags,omitempty"`
	Subcommands []string       `json:"subcommands,omitempty"`
}

// FlagMetadata represents metadata about a flag
type FlagMetadata struct {
	Name      string `json:"name"`
	Shorthand string `json:"shorthand,omitempty"`
	Usage     string `json:"usage"`
	Default   string `json:"default,omitempty"`
}

// HelpResponse is the JSON response for the help command
type HelpResponse struct {
	Commands    []CommandMetadata `json:"commands,omitempty"`
	Command     *CommandMetadata  `json:"command,omitempty"`
	GlobalFlags []FlagMetadata    `json:"global_flags,omitempty"`
}

// newHelpCommand creates the help command. With --json it emits
// machine-readable command metadata for tooling.
func newHelpCommand(rootCmd *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:   "help [command]",
		Short: "Help about any command",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				if flagJSON {
					return printJSON(allCommandsResponse(rootCmd))
				}
				return rootCmd.Help()
			}

			target, _, err := rootCmd.Find(args)
			if err != nil || target == rootCmd {
				return fmt.Errorf("unknown command: %s", args[0])
			}
			if flagJSON {
				meta := commandMetadata(target)
				return printJSON(HelpResponse{Command: &meta})
			}
			return target.Help()
		},
	}
}

func allCommandsResponse(rootCmd *cobra.Command) HelpResponse {
	resp := HelpResponse{
		GlobalFlags: flagMetadata(rootCmd.PersistentFlags()),
	}
	for _, cmd := range rootCmd.Commands() {
		if cmd.Hidden || cmd.Name() == "help" {
			continue
		}
		resp.Commands = append(resp.Commands, commandMetadata(cmd))
	}
	return resp
}

func commandMetadata(cmd *cobra.Command) CommandMetadata {
	meta := CommandMetadata{
		Name:  cmd.Name(),
		Short: cmd.Short,
		Long:  cmd.Long,
		Usage: cmd.UseLine(),
		Flags: flagMetadata(cmd.Flags()),
	}
	for _, sub := range cmd.Commands() {
		meta.Subcommands = append(meta.Subcommands, sub.Name())
	}
	return meta
}

func flagMetadata(flags *pflag.FlagSet) []FlagMetadata {
	var result []FlagMetadata
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		result = append(result, FlagMetadata{
			Name:      f.Name,
			Shorthand: f.Shorthand,
			Usage:     f.Usage,
			Default:   f.DefValue,
		})
	})
	return result
}

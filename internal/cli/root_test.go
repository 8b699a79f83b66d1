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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand()

	names := make(map[string]bool)
	for _, cmd := range root.Commands() {
		names[cmd.Name()] = true
	}

	for _, name := range []string{"queue", "get", "list", "history", "cancel", "result", "runners", "status", "version"} {
		assert.True(t, names[name], "expected %s command to be registered", name)
	}

	assert.NotNil(t, root.PersistentFlags().Lookup("host"))
	assert.NotNil(t, root.PersistentFlags().Lookup("json"))
}

func TestParseMetadata(t *testing.T) {
	meta, err := parseMetadata([]string{"branch=main", "cpu_units=4"})
	require.NoError(t, err)
	assert.Equal(t, "main", meta["branch"])
	assert.Equal(t, "4", meta["cpu_units"])

	_, err = parseMetadata([]string{"novalue"})
	assert.Error(t, err)

	_, err = parseMetadata([]string{"=value"})
	assert.Error(t, err)
}

func TestHelpCommand_Metadata(t *testing.T) {
	root := NewRootCommand()

	resp := allCommandsResponse(root)
	assert.NotEmpty(t, resp.Commands)
	assert.NotEmpty(t, resp.GlobalFlags)

	queue, _, err := root.Find([]string{"queue"})
	require.NoError(t, err)

	meta := commandMetadata(queue)
	assert.Equal(t, "queue", meta.Name)

	flagNames := make(map[string]string)
	for _, f := range meta.Flags {
		flagNames[f.Name] = f.Shorthand
	}
	assert.Equal(t, "p", flagNames["priority"])
	assert.Contains(t, flagNames, "runner-type")
}

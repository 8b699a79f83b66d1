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

import "os"

// resolveToken resolves a backend credential from runner settings.
// Resolution order:
//  1. the "token" setting (literal value)
//  2. the environment variable named by the "token_env" setting
//  3. the given fallback environment variables, in order
//
// Returns empty string if nothing matches (anonymous access).
func resolveToken(settings map[string]string, fallbackEnvs ...string) string {
	if token := settings["token"]; token != "" {
		return token
	}
	if envName := settings["token_env"]; envName != "" {
		if token := os.Getenv(envName); token != "" {
			return token
		}
	}
	for _, envName := range fallbackEnvs {
		if token := os.Getenv(envName); token != "" {
			return token
		}
	}
	return ""
}

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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tombee/foreman/internal/registry"
	"github.com/tombee/foreman/internal/store"
	"github.com/tombee/foreman/pkg/httpclient"
)

// TypeJenkins is the runner type served by the Jenkins adapter.
const TypeJenkins = "jenkins"

// JenkinsAdapter triggers executions through the Jenkins
// buildWithParameters API.
//
// Runner settings:
//   - url: Jenkins base URL, required
//   - job: job name, required
//   - username: basic auth user for the API token
//   - token / token_env: API token (fallback env JENKINS_TOKEN)
type JenkinsAdapter struct {
	httpClient *http.Client

	// buildWithParameters returns a queue item, not a build. The adapter
	// polls the queue item until Jenkins assigns a build number.
	pollAttempts int
	pollInterval time.Duration
}

// NewJenkinsAdapter creates a Jenkins adapter.
func NewJenkinsAdapter(client *http.Client) *JenkinsAdapter {
	if client == nil {
		cfg := httpclient.DefaultConfig()
		cfg.UserAgent = "foreman-jenkins-adapter/1.0"
		client, _ = httpclient.New(cfg)
	}
	return &JenkinsAdapter{
		httpClient:   client,
		pollAttempts: 5,
		pollInterval: 2 * time.Second,
	}
}

// Type implements Adapter.
func (a *JenkinsAdapter) Type() string {
	return TypeJenkins
}

// Trigger implements Adapter.
func (a *JenkinsAdapter) Trigger(ctx context.Context, exec *store.Execution, runner *registry.Runner) (*RunHandle, error) {
	baseURL := strings.TrimSuffix(runner.Settings["url"], "/")
	job := runner.Settings["job"]
	if baseURL == "" || job == "" {
		return nil, NewError(TypeJenkins, exec.ID, "runner settings url and job are required", nil)
	}

	params := url.Values{}
	params.Set("SUITE", exec.Suite)
	params.Set("ENVIRONMENT", exec.Environment)
	params.Set("EXECUTION_ID", exec.ID)

	triggerURL := fmt.Sprintf("%s/job/%s/buildWithParameters?%s", baseURL, url.PathEscape(job), params.Encode())
	resp, err := a.do(ctx, runner, http.MethodPost, triggerURL)
	if err != nil {
		return nil, NewError(TypeJenkins, exec.ID, "build trigger request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, &Error{
			Backend:     TypeJenkins,
			ExecutionID: exec.ID,
			StatusCode:  resp.StatusCode,
			Message:     fmt.Sprintf("build trigger rejected: %s", readErrorBody(resp.Body)),
		}
	}

	queueURL := resp.Header.Get("Location")
	if queueURL == "" {
		return &RunHandle{RunURL: fmt.Sprintf("%s/job/%s", baseURL, url.PathEscape(job))}, nil
	}

	if handle := a.resolveQueueItem(ctx, runner, queueURL); handle != nil {
		return handle, nil
	}
	return &RunHandle{RunURL: queueURL}, nil
}

// resolveQueueItem polls a queue item until it carries an executable
// (the started build).
func (a *JenkinsAdapter) resolveQueueItem(ctx context.Context, runner *registry.Runner, queueURL string) *RunHandle {
	apiURL := strings.TrimSuffix(queueURL, "/") + "/api/json"

	for attempt := 0; attempt < a.pollAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(a.pollInterval):
			case <-ctx.Done():
				return nil
			}
		}

		resp, err := a.do(ctx, runner, http.MethodGet, apiURL)
		if err != nil {
			continue
		}

		var item struct {
			Executable struct {
				Number int64  `json:"number"`
				URL    string `json:"url"`
			} `json:"executable"`
		}
		err = json.NewDecoder(resp.Body).Decode(&item)
		resp.Body.Close()
		if err != nil || item.Executable.Number == 0 {
			continue
		}

		return &RunHandle{
			RunID:  strconv.FormatInt(item.Executable.Number, 10),
			RunURL: item.Executable.URL,
		}
	}
	return nil
}

// Cancel implements Canceller by stopping the running build.
func (a *JenkinsAdapter) Cancel(ctx context.Context, exec *store.Execution, runner *registry.Runner) error {
	if exec.ExternalRunID == "" {
		return nil
	}
	baseURL := strings.TrimSuffix(runner.Settings["url"], "/")
	job := runner.Settings["job"]

	stopURL := fmt.Sprintf("%s/job/%s/%s/stop", baseURL, url.PathEscape(job), exec.ExternalRunID)
	resp, err := a.do(ctx, runner, http.MethodPost, stopURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("stop rejected with status %d", resp.StatusCode)
	}
	return nil
}

func (a *JenkinsAdapter) do(ctx context.Context, runner *registry.Runner, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	if token := resolveToken(runner.Settings, "JENKINS_TOKEN", "FOREMAN_JENKINS_TOKEN"); token != "" {
		req.SetBasicAuth(runner.Settings["username"], token)
	}
	return a.httpClient.Do(req)
}

var (
	_ Adapter   = (*JenkinsAdapter)(nil)
	_ Canceller = (*JenkinsAdapter)(nil)
)

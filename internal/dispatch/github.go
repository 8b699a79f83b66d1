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
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tombee/foreman/internal/registry"
	"github.com/tombee/foreman/internal/store"
	"github.com/tombee/foreman/pkg/httpclient"
)

// TypeGitHubActions is the runner type served by the GitHub adapter.
const TypeGitHubActions = "github-actions"

// GitHubAdapter triggers executions through the GitHub Actions
// workflow_dispatch API.
//
// Runner settings:
//   - owner, repo, workflow: required, identify the workflow to dispatch
//   - ref: git ref to run on (default "main")
//   - api_url: API base URL, for GitHub Enterprise (default https://api.github.com)
//   - token / token_env: credential (fallback env GITHUB_TOKEN)
type GitHubAdapter struct {
	httpClient *http.Client

	// The dispatch endpoint returns 204 with no run ID; the adapter polls
	// the workflow's run listing to discover the run it just started.
	pollAttempts int
	pollInterval time.Duration
}

// NewGitHubAdapter creates a GitHub Actions adapter.
func NewGitHubAdapter(client *http.Client) *GitHubAdapter {
	if client == nil {
		cfg := httpclient.DefaultConfig()
		cfg.UserAgent = "foreman-github-adapter/1.0"
		client, _ = httpclient.New(cfg)
	}
	return &GitHubAdapter{
		httpClient:   client,
		pollAttempts: 5,
		pollInterval: 2 * time.Second,
	}
}

// Type implements Adapter.
func (a *GitHubAdapter) Type() string {
	return TypeGitHubActions
}

// Trigger implements Adapter.
func (a *GitHubAdapter) Trigger(ctx context.Context, exec *store.Execution, runner *registry.Runner) (*RunHandle, error) {
	owner := runner.Settings["owner"]
	repo := runner.Settings["repo"]
	workflow := runner.Settings["workflow"]
	if owner == "" || repo == "" || workflow == "" {
		return nil, NewError(TypeGitHubActions, exec.ID, "runner settings owner, repo and workflow are required", nil)
	}
	ref := runner.Settings["ref"]
	if ref == "" {
		ref = "main"
	}

	dispatchedAt := time.Now().UTC()

	body, err := json.Marshal(map[string]any{
		"ref": ref,
		"inputs": map[string]string{
			"suite":        exec.Suite,
			"environment":  exec.Environment,
			"execution_id": exec.ID,
		},
	})
	if err != nil {
		return nil, NewError(TypeGitHubActions, exec.ID, "failed to encode dispatch payload", err)
	}

	dispatchURL := fmt.Sprintf("%s/repos/%s/%s/actions/workflows/%s/dispatches", a.baseURL(runner), owner, repo, workflow)
	resp, err := a.do(ctx, runner, http.MethodPost, dispatchURL, bytes.NewReader(body))
	if err != nil {
		return nil, NewError(TypeGitHubActions, exec.ID, "dispatch request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return nil, &Error{
			Backend:     TypeGitHubActions,
			ExecutionID: exec.ID,
			StatusCode:  resp.StatusCode,
			Message:     fmt.Sprintf("workflow dispatch rejected: %s", readErrorBody(resp.Body)),
		}
	}

	// Best effort: a handle without a run ID still marks the execution
	// running, it just cannot be cancelled upstream.
	if run := a.findRun(ctx, runner, owner, repo, workflow, dispatchedAt); run != nil {
		return run, nil
	}
	return &RunHandle{
		RunURL: fmt.Sprintf("https://github.com/%s/%s/actions/workflows/%s", owner, repo, workflow),
	}, nil
}

// Cancel implements Canceller.
func (a *GitHubAdapter) Cancel(ctx context.Context, exec *store.Execution, runner *registry.Runner) error {
	if exec.ExternalRunID == "" {
		return nil
	}
	owner := runner.Settings["owner"]
	repo := runner.Settings["repo"]

	cancelURL := fmt.Sprintf("%s/repos/%s/%s/actions/runs/%s/cancel", a.baseURL(runner), owner, repo, exec.ExternalRunID)
	resp, err := a.do(ctx, runner, http.MethodPost, cancelURL, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("cancel rejected with status %d", resp.StatusCode)
	}
	return nil
}

// findRun polls the workflow run listing for the run started by this
// dispatch. GitHub does not echo inputs back, so the newest
// workflow_dispatch run created at or after the dispatch time is taken.
func (a *GitHubAdapter) findRun(ctx context.Context, runner *registry.Runner, owner, repo, workflow string, since time.Time) *RunHandle {
	query := url.Values{}
	query.Set("event", "workflow_dispatch")
	query.Set("created", ">="+since.Format(time.RFC3339))
	query.Set("per_page", "1")
	listURL := fmt.Sprintf("%s/repos/%s/%s/actions/workflows/%s/runs?%s",
		a.baseURL(runner), owner, repo, workflow, query.Encode())

	for attempt := 0; attempt < a.pollAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(a.pollInterval):
			case <-ctx.Done():
				return nil
			}
		}

		resp, err := a.do(ctx, runner, http.MethodGet, listURL, nil)
		if err != nil {
			continue
		}

		var listing struct {
			WorkflowRuns []struct {
				ID      int64  `json:"id"`
				HTMLURL string `json:"html_url"`
			} `json:"workflow_runs"`
		}
		err = json.NewDecoder(resp.Body).Decode(&listing)
		resp.Body.Close()
		if err != nil || len(listing.WorkflowRuns) == 0 {
			continue
		}

		run := listing.WorkflowRuns[0]
		return &RunHandle{
			RunID:  strconv.FormatInt(run.ID, 10),
			RunURL: run.HTMLURL,
		}
	}
	return nil
}

func (a *GitHubAdapter) baseURL(runner *registry.Runner) string {
	if base := runner.Settings["api_url"]; base != "" {
		return base
	}
	return "https://api.github.com"
}

func (a *GitHubAdapter) do(ctx context.Context, runner *registry.Runner, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if token := resolveToken(runner.Settings, "GITHUB_TOKEN", "FOREMAN_GITHUB_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return a.httpClient.Do(req)
}

// readErrorBody returns a short excerpt of an error response body.
func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil || len(data) == 0 {
		return "no response body"
	}
	return string(data)
}

var (
	_ Adapter   = (*GitHubAdapter)(nil)
	_ Canceller = (*GitHubAdapter)(nil)
)

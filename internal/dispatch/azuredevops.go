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
	"net/http"
	"strconv"

	"github.com/tombee/foreman/internal/registry"
	"github.com/tombee/foreman/internal/store"
	"github.com/tombee/foreman/pkg/httpclient"
)

// TypeAzureDevOps is the runner type served by the Azure DevOps adapter.
const TypeAzureDevOps = "azure-devops"

const azureAPIVersion = "7.1"

// AzureDevOpsAdapter triggers executions through the Azure DevOps
// pipeline runs API.
//
// Runner settings:
//   - organization, project, pipeline_id: required
//   - branch: ref to run on (default refs/heads/main)
//   - api_url: base URL override (default https://dev.azure.com)
//   - token / token_env: PAT (fallback env AZURE_DEVOPS_TOKEN)
type AzureDevOpsAdapter struct {
	httpClient *http.Client
}

// NewAzureDevOpsAdapter creates an Azure DevOps adapter.
func NewAzureDevOpsAdapter(client *http.Client) *AzureDevOpsAdapter {
	if client == nil {
		cfg := httpclient.DefaultConfig()
		cfg.UserAgent = "foreman-azuredevops-adapter/1.0"
		client, _ = httpclient.New(cfg)
	}
	return &AzureDevOpsAdapter{httpClient: client}
}

// Type implements Adapter.
func (a *AzureDevOpsAdapter) Type() string {
	return TypeAzureDevOps
}

// Trigger implements Adapter. The runs API returns the run ID in the
// response, so no polling is needed.
func (a *AzureDevOpsAdapter) Trigger(ctx context.Context, exec *store.Execution, runner *registry.Runner) (*RunHandle, error) {
	org := runner.Settings["organization"]
	project := runner.Settings["project"]
	pipelineID := runner.Settings["pipeline_id"]
	if org == "" || project == "" || pipelineID == "" {
		return nil, NewError(TypeAzureDevOps, exec.ID, "runner settings organization, project and pipeline_id are required", nil)
	}
	branch := runner.Settings["branch"]
	if branch == "" {
		branch = "refs/heads/main"
	}

	payload := map[string]any{
		"resources": map[string]any{
			"repositories": map[string]any{
				"self": map[string]string{"refName": branch},
			},
		},
		"templateParameters": map[string]string{
			"suite":       exec.Suite,
			"environment": exec.Environment,
			"executionId": exec.ID,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewError(TypeAzureDevOps, exec.ID, "failed to encode run payload", err)
	}

	baseURL := runner.Settings["api_url"]
	if baseURL == "" {
		baseURL = "https://dev.azure.com"
	}
	url := fmt.Sprintf("%s/%s/%s/_apis/pipelines/%s/runs?api-version=%s", baseURL, org, project, pipelineID, azureAPIVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewError(TypeAzureDevOps, exec.ID, "failed to build run request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := resolveToken(runner.Settings, "AZURE_DEVOPS_TOKEN", "FOREMAN_AZURE_TOKEN"); token != "" {
		// PATs go over basic auth with an empty user.
		req.SetBasicAuth("", token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, NewError(TypeAzureDevOps, exec.ID, "run request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &Error{
			Backend:     TypeAzureDevOps,
			ExecutionID: exec.ID,
			StatusCode:  resp.StatusCode,
			Message:     fmt.Sprintf("pipeline run rejected: %s", readErrorBody(resp.Body)),
		}
	}

	var run struct {
		ID    int64 `json:"id"`
		Links struct {
			Web struct {
				Href string `json:"href"`
			} `json:"web"`
		} `json:"_links"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return nil, NewError(TypeAzureDevOps, exec.ID, "failed to decode run response", err)
	}

	return &RunHandle{
		RunID:  strconv.FormatInt(run.ID, 10),
		RunURL: run.Links.Web.Href,
	}, nil
}

var _ Adapter = (*AzureDevOpsAdapter)(nil)

// Package forge is a thin typed client over the four forge REST endpoints
// the dispatch daemon consumes: listing queued runs, listing a run's jobs,
// generating a JIT runner credential, and checking admin permission on a
// repository.
package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pks-run/runnerd/internal/errkinds"
)

const runnerGroupID = 1

// Client talks to the forge's REST API on behalf of a single bearer token.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// Config configures a Client.
type Config struct {
	// BaseURL is the forge's API root, e.g. "https://api.github.com". It is
	// joined with the owner/repo path segments per call.
	BaseURL string
	Token   string
	// HTTPClient overrides the transport used for requests; nil uses
	// http.DefaultClient's transport with no special timeout (callers pass
	// a cancel signal through ctx instead).
	HTTPClient *http.Client
}

// New creates a forge Client. The client is stateless beyond the token: all
// calls carry the same bearer token and accept header.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
	}
}

// ListQueuedRuns lists workflow runs in the queued state for owner/repo.
func (c *Client) ListQueuedRuns(ctx context.Context, owner, repo string) ([]QueuedRun, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/actions/runs?status=queued&per_page=10", c.baseURL, owner, repo)
	resp, err := c.doRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed runsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &errkinds.ForgeError{StatusCode: resp.StatusCode, Message: "decode queued runs: " + err.Error()}
	}

	runs := make([]QueuedRun, 0, len(parsed.WorkflowRuns))
	for _, r := range parsed.WorkflowRuns {
		runs = append(runs, QueuedRun{
			ID:         r.ID,
			Name:       r.Name,
			HeadBranch: r.HeadBranch,
			HeadSHA:    r.HeadSHA,
			CreatedAt:  r.CreatedAt,
			Labels:     r.Labels,
		})
	}
	return runs, nil
}

// ListJobsForRun lists the latest attempt's jobs for a run.
func (c *Client) ListJobsForRun(ctx context.Context, owner, repo string, runID int64) ([]QueuedJob, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/actions/runs/%d/jobs?filter=latest&per_page=100", c.baseURL, owner, repo, runID)
	resp, err := c.doRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed jobsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &errkinds.ForgeError{StatusCode: resp.StatusCode, Message: "decode jobs: " + err.Error()}
	}

	jobs := make([]QueuedJob, 0, len(parsed.Jobs))
	for _, j := range parsed.Jobs {
		jobs = append(jobs, QueuedJob{
			ID:     j.ID,
			RunID:  j.RunID,
			Name:   j.Name,
			Status: j.Status,
			Labels: j.Labels,
		})
	}
	return jobs, nil
}

// GenerateJitConfig requests a single-use runner registration credential
// naming runnerName and carrying labels.
func (c *Client) GenerateJitConfig(ctx context.Context, owner, repo, runnerName string, labels []string) (JitCredential, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/actions/runners/generate-jitconfig", c.baseURL, owner, repo)
	body := jitConfigRequest{
		Name:          runnerName,
		RunnerGroupID: runnerGroupID,
		Labels:        labels,
	}

	resp, err := c.doRequest(ctx, http.MethodPost, url, body)
	if err != nil {
		return JitCredential{}, err
	}
	defer resp.Body.Close()

	var parsed jitConfigResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return JitCredential{}, &errkinds.ForgeError{StatusCode: resp.StatusCode, Message: "decode jitconfig: " + err.Error()}
	}
	if parsed.EncodedJITConfig == "" {
		return JitCredential{}, &errkinds.ForgeError{StatusCode: resp.StatusCode, Message: "jitconfig response missing encoded_jit_config"}
	}

	return JitCredential{
		RunnerID:   parsed.Runner.ID,
		EncodedJIT: parsed.EncodedJITConfig,
	}, nil
}

// CheckAdminPermission reports whether the token holder has admin
// permission on owner/repo. Any transport error is treated as false: this
// check is best-effort and never fails the caller.
func (c *Client) CheckAdminPermission(ctx context.Context, owner, repo string) bool {
	url := fmt.Sprintf("%s/repos/%s/%s", c.baseURL, owner, repo)
	resp, err := c.doRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	var parsed repoResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false
	}
	return parsed.Permissions.Admin
}

// doRequest executes an HTTP request, retrying rate limits (403/429) and
// transient 5xx failures with exponential backoff, and converting every
// non-2xx response into a ForgeError.
func (c *Client) doRequest(ctx context.Context, method, url string, body any) (*http.Response, error) {
	var reqBody []byte
	if body != nil {
		var err error
		reqBody, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	const maxRetries = 5
	backoff := time.Second

	for attempt := 0; attempt <= maxRetries; attempt++ {
		var reader io.Reader
		if reqBody != nil {
			reader = bytes.NewReader(reqBody)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/vnd.forge+json")
		if reqBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &errkinds.ForgeError{Message: err.Error()}
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return nil, &errkinds.ForgeError{StatusCode: resp.StatusCode, Message: "exhausted retries"}
			}

			wait := backoff
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
				if secs, err := strconv.Atoi(retryAfter); err == nil {
					wait = time.Duration(secs) * time.Second
				}
			}
			select {
			case <-time.After(wait):
				backoff *= 2
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		defer resp.Body.Close()
		msg, _ := io.ReadAll(resp.Body)
		return nil, &errkinds.ForgeError{StatusCode: resp.StatusCode, Message: string(msg)}
	}

	return nil, &errkinds.ForgeError{Message: "unreachable"}
}

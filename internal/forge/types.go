package forge

import "time"

// QueuedRun is a snapshot of a forge workflow run in the queued state.
type QueuedRun struct {
	ID          int64
	Name        string
	HeadBranch  string
	HeadSHA     string
	CreatedAt   time.Time
	Labels      []string
}

// QueuedJob is a snapshot of a single job within a run.
type QueuedJob struct {
	ID     int64
	RunID  int64
	Name   string
	Status string
	Labels []string
}

// JitCredential is a short-lived, single-use runner registration credential.
type JitCredential struct {
	RunnerID    int64
	EncodedJIT  string
}

type runsResponse struct {
	TotalCount int `json:"total_count"`
	WorkflowRuns []struct {
		ID         int64     `json:"id"`
		Name       string    `json:"name"`
		HeadBranch string    `json:"head_branch"`
		HeadSHA    string    `json:"head_sha"`
		CreatedAt  time.Time `json:"created_at"`
		Labels     []string  `json:"labels"`
	} `json:"workflow_runs"`
}

type jobsResponse struct {
	TotalCount int `json:"total_count"`
	Jobs       []struct {
		ID     int64    `json:"id"`
		RunID  int64    `json:"run_id"`
		Name   string   `json:"name"`
		Status string   `json:"status"`
		Labels []string `json:"labels"`
	} `json:"jobs"`
}

type jitConfigRequest struct {
	Name         string   `json:"name"`
	RunnerGroupID int     `json:"runner_group_id"`
	Labels       []string `json:"labels"`
}

type jitConfigResponse struct {
	Runner struct {
		ID     int64  `json:"id"`
		Name   string `json:"name"`
		OS     string `json:"os"`
		Status string `json:"status"`
	} `json:"runner"`
	EncodedJITConfig string `json:"encoded_jit_config"`
}

type repoResponse struct {
	Permissions struct {
		Admin bool `json:"admin"`
	} `json:"permissions"`
}

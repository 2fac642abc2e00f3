package store

import "time"

// RunnerRegistration is a declared intent to service a repository on the
// forge.
type RunnerRegistration struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Repo      string    `json:"repo"`
	Labels    string    `json:"labels"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
}

// DefaultDistinguishingLabel identifies this daemon as a candidate runner,
// separate from any routing label a job may also carry.
const DefaultDistinguishingLabel = "devcontainer-runner"

// DefaultReservedLabels are forge-standard labels that never select a
// named container. Kept configurable rather than hardcoded so an operator
// can extend the set without a code change.
var DefaultReservedLabels = []string{"self-hosted", "linux", "x64", "arm64", "macos", "windows"}

// DaemonConfiguration is the persisted document describing registrations
// and daemon tuning.
type DaemonConfiguration struct {
	Registrations          []RunnerRegistration `json:"registrations"`
	PollingIntervalSeconds int                   `json:"pollingIntervalSeconds"`
	MaxConcurrentJobs      int                   `json:"maxConcurrentJobs"`
	ReservedLabels         []string              `json:"reservedLabels,omitempty"`
	LastModified           *time.Time            `json:"lastModified"`
}

const (
	DefaultPollingIntervalSeconds = 30
	DefaultMaxConcurrentJobs      = 1
)

func defaultConfiguration() DaemonConfiguration {
	return DaemonConfiguration{
		Registrations:          []RunnerRegistration{},
		PollingIntervalSeconds: DefaultPollingIntervalSeconds,
		MaxConcurrentJobs:      DefaultMaxConcurrentJobs,
		ReservedLabels:         append([]string{}, DefaultReservedLabels...),
	}
}

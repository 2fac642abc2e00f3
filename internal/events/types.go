package events

import (
	"strconv"
	"time"
)

// EventType identifies what happened to the dispatch daemon or one of its jobs.
type EventType string

const (
	// JobStarted fires once a worker has recorded a JobState in the active set.
	JobStarted EventType = "job.started"

	// JobCompleted fires once a worker's JobState reaches a terminal phase.
	JobCompleted EventType = "job.completed"

	// StatusChanged fires on daemon lifecycle transitions (e.g. "running").
	StatusChanged EventType = "status.changed"
)

// Event is a single occurrence in the daemon's lifecycle. Fields unrelated
// to the event's Type are left zero.
type Event struct {
	Time time.Time `json:"time"`
	Type EventType `json:"type"`

	RegistrationID string `json:"registrationId,omitempty"`
	RunID          int64  `json:"runId,omitempty"`
	JobID          int64  `json:"jobId,omitempty"`
	ContainerName  string `json:"containerName,omitempty"`

	// Status is set on JobCompleted: "Completed" or "Failed".
	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`

	// Message carries the human-readable text for StatusChanged.
	Message string `json:"message,omitempty"`
}

// String renders a one-line summary, used by the daemon's own log lines.
func (e Event) String() string {
	switch e.Type {
	case JobStarted:
		return "job.started run=" + strconv.FormatInt(e.RunID, 10) + " job=" + strconv.FormatInt(e.JobID, 10)
	case JobCompleted:
		return "job.completed run=" + strconv.FormatInt(e.RunID, 10) + " job=" + strconv.FormatInt(e.JobID, 10) + " status=" + e.Status
	case StatusChanged:
		return "status.changed " + e.Message
	default:
		return string(e.Type)
	}
}

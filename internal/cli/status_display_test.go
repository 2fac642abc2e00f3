package cli

import (
	"testing"

	"github.com/pks-run/runnerd/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestRenderStatus_NoRegistrations(t *testing.T) {
	out := renderStatus(store.DaemonConfiguration{
		PollingIntervalSeconds: 30,
		MaxConcurrentJobs:      1,
		ReservedLabels:         store.DefaultReservedLabels,
	})
	assert.Contains(t, out, "no registrations")
	assert.Contains(t, out, "polling interval: 30s")
}

func TestRenderStatus_ListsRegistrationsWithEnabledState(t *testing.T) {
	out := renderStatus(store.DaemonConfiguration{
		PollingIntervalSeconds: 30,
		MaxConcurrentJobs:      2,
		ReservedLabels:         store.DefaultReservedLabels,
		Registrations: []store.RunnerRegistration{
			{Owner: "acme", Repo: "svc", Labels: store.DefaultDistinguishingLabel, Enabled: true},
			{Owner: "acme", Repo: "retired", Labels: store.DefaultDistinguishingLabel, Enabled: false},
		},
	})
	assert.Contains(t, out, "acme/svc")
	assert.Contains(t, out, "acme/retired")
}

package daemon

import "strings"

// reservedLabelSet is a lookup built from the configured reserved labels
// plus the registration's own distinguishing label; neither ever selects
// a container name.
type reservedLabelSet struct {
	distinguishing string
	reserved       map[string]struct{}
}

func newReservedLabelSet(distinguishing string, reserved []string) reservedLabelSet {
	m := make(map[string]struct{}, len(reserved))
	for _, l := range reserved {
		m[strings.ToLower(l)] = struct{}{}
	}
	return reservedLabelSet{distinguishing: strings.ToLower(distinguishing), reserved: m}
}

func (s reservedLabelSet) isReserved(label string) bool {
	l := strings.ToLower(label)
	if l == s.distinguishing {
		return true
	}
	_, ok := s.reserved[l]
	return ok
}

// routeJob interprets a job's label set. The first label that is neither
// the registration's distinguishing label nor a reserved forge label is
// taken as the target container name; an empty return means the job is
// ephemeral.
func routeJob(jobLabels []string, labels reservedLabelSet) (containerName string) {
	for _, l := range jobLabels {
		if !labels.isReserved(l) {
			return l
		}
	}
	return ""
}


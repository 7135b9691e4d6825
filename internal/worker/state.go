package worker

import (
	"fmt"

	"iss-tracker-gateway/internal/metrics"
)

// State is a worker lifecycle state.
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for c := StateParsed; c <= StateRedundant; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown worker state %q", b)
}

// transition moves the gauge from one state to another.
func transition(from, to State) {
	metrics.WorkerState.WithLabelValues(from.String()).Dec()
	metrics.WorkerState.WithLabelValues(to.String()).Inc()
}

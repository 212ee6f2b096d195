package lifecycle

import "strings"

// State is the lifecycle state of a remote application as derived from its output.
// It is never stored; every evaluation rescans the log.
type State string

const (
	StateNotStarted  State = "NOT_STARTED"
	StateInitialized State = "INITIALIZED"
	// StateRunning is reported as StateInitialized; the application prints no
	// separate marker for it.
	StateRunning  State = StateInitialized
	StateFinished State = "FINISHED"
	StateBroken   State = "BROKEN"
)

func (s State) String() string { return string(s) }

// Default marker tokens printed by the application service wrapper.
const (
	DefaultTopologyMarker    = "Topology snapshot"
	DefaultInitializedMarker = "IGNITE_APPLICATION_INITIALIZED"
	DefaultFinishedMarker    = "IGNITE_APPLICATION_FINISHED"
	DefaultBrokenMarker      = "IGNITE_APPLICATION_BROKEN"
)

// Markers holds the literal tokens that signal lifecycle transitions.
type Markers struct {
	Topology    string `json:"topology" mapstructure:"topology"`
	Initialized string `json:"initialized" mapstructure:"initialized"`
	Finished    string `json:"finished" mapstructure:"finished"`
	Broken      string `json:"broken" mapstructure:"broken"`
}

// DefaultMarkers returns the markers used when none are configured.
func DefaultMarkers() Markers {
	return Markers{
		Topology:    DefaultTopologyMarker,
		Initialized: DefaultInitializedMarker,
		Finished:    DefaultFinishedMarker,
		Broken:      DefaultBrokenMarker,
	}
}

// WithDefaults fills empty tokens from DefaultMarkers.
func (m Markers) WithDefaults() Markers {
	d := DefaultMarkers()
	if m.Topology == "" {
		m.Topology = d.Topology
	}
	if m.Initialized == "" {
		m.Initialized = d.Initialized
	}
	if m.Finished == "" {
		m.Finished = d.Finished
	}
	if m.Broken == "" {
		m.Broken = d.Broken
	}
	return m
}

// Outcome is the tagged result of a single marker scan.
type Outcome int

const (
	NotFound Outcome = iota
	Success
	Broken
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Broken:
		return "broken"
	default:
		return "not_found"
	}
}

// Classify scans lines once and reports which marker is present.
// The broken marker wins over desired wherever it appears.
func Classify(lines []string, desired, broken string) Outcome {
	out := NotFound
	for _, l := range lines {
		if broken != "" && strings.Contains(l, broken) {
			return Broken
		}
		if desired != "" && strings.Contains(l, desired) {
			out = Success
		}
	}
	return out
}

// Derive maps log lines to a State. Precedence: BROKEN, FINISHED, INITIALIZED.
func Derive(lines []string, m Markers) State {
	m = m.WithDefaults()
	var initialized, finished bool
	for _, l := range lines {
		switch {
		case strings.Contains(l, m.Broken):
			return StateBroken
		case strings.Contains(l, m.Finished):
			finished = true
		case strings.Contains(l, m.Initialized):
			initialized = true
		}
	}
	switch {
	case finished:
		return StateFinished
	case initialized:
		return StateInitialized
	default:
		return StateNotStarted
	}
}

// AllStates lists the distinct states in display order.
func AllStates() []State {
	return []State{StateNotStarted, StateInitialized, StateFinished, StateBroken}
}

// Combine folds per-node states into one service state: BROKEN if any node
// is broken, otherwise the least advanced state among the nodes.
func Combine(states ...State) State {
	if len(states) == 0 {
		return StateNotStarted
	}
	rank := map[State]int{StateNotStarted: 0, StateInitialized: 1, StateFinished: 2}
	out := StateFinished
	for _, s := range states {
		if s == StateBroken {
			return StateBroken
		}
		if rank[s] < rank[out] {
			out = s
		}
	}
	return out
}

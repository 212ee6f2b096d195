package detector

import (
	"context"
	"errors"
	"strings"
)

// Detector is a strategy that determines if the application is running on a host.
// Implementations may look for a process pattern, a PID file, or run a custom command.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the application is detected as running.
	Alive(ctx context.Context) (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// anyDetector reports alive as soon as one member does.
type anyDetector []Detector

// Any combines detectors; errors are returned only when no member reports alive.
func Any(ds ...Detector) Detector { return anyDetector(ds) }

func (a anyDetector) Alive(ctx context.Context) (bool, error) {
	var errs []error
	for _, d := range a {
		ok, err := d.Alive(ctx)
		if ok {
			return true, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return false, errors.Join(errs...)
}

func (a anyDetector) Describe() string {
	parts := make([]string, 0, len(a))
	for _, d := range a {
		parts = append(parts, d.Describe())
	}
	return "any(" + strings.Join(parts, ",") + ")"
}

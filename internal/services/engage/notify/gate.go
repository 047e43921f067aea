// Package notify answers whether an operator should be alerted about a
// message, given its type's priority level. Gates are pure queries with no
// side effects; actual alert delivery belongs to the excluded provider layer.
package notify

import "fmt"

// Gate decides whether an operator alert is warranted for a priority level.
type Gate interface {
	ShouldNotify(priorityLevel int) bool
}

// ThresholdGate alerts for priorities at or below a cutoff. Priority 0 is the
// most urgent, so a cutoff of 0 alerts only for emergencies.
type ThresholdGate struct {
	MaxPriority int
}

// ShouldNotify reports whether the priority is at or above the urgency cutoff.
func (g ThresholdGate) ShouldNotify(priorityLevel int) bool {
	return priorityLevel <= g.MaxPriority
}

// StaticGate always answers the same way. Used for environments where alerts
// are globally on or off.
type StaticGate bool

// ShouldNotify returns the fixed answer.
func (g StaticGate) ShouldNotify(int) bool {
	return bool(g)
}

// FromConfig selects a gate implementation by name. Supported modes are
// "threshold", "always", and "never".
func FromConfig(mode string, maxPriority int) (Gate, error) {
	switch mode {
	case "", "threshold":
		return ThresholdGate{MaxPriority: maxPriority}, nil
	case "always":
		return StaticGate(true), nil
	case "never":
		return StaticGate(false), nil
	default:
		return nil, fmt.Errorf("unknown notification gate mode %q", mode)
	}
}

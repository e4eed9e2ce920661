// Scan run and per-portal state machines.
//
// Run status graph:
//
//	PENDING ──► RUNNING ──► AGGREGATING ──► COMPLETE
//	                                   ├──► PARTIALLY_FAILED
//	                                   └──► FAILED
//
// Portal status graph:
//
//	SCHEDULED ──► IN_FLIGHT ──► SUCCEEDED | PARTIALLY_FAILED | FAILED
//	    └──────────────────────────────────────────────────► FAILED
//
// COMPLETE, PARTIALLY_FAILED, FAILED and SUCCEEDED are terminal.
package model

import "fmt"

// RunStatus is the lifecycle state of a ScanRun.
type RunStatus string

const (
	RunPending         RunStatus = "PENDING"
	RunRunning         RunStatus = "RUNNING"
	RunAggregating     RunStatus = "AGGREGATING"
	RunComplete        RunStatus = "COMPLETE"
	RunPartiallyFailed RunStatus = "PARTIALLY_FAILED"
	RunFailed          RunStatus = "FAILED"
)

// PortalStatus is the lifecycle state of one portal inside a run.
type PortalStatus string

const (
	PortalScheduled       PortalStatus = "SCHEDULED"
	PortalInFlight        PortalStatus = "IN_FLIGHT"
	PortalSucceeded       PortalStatus = "SUCCEEDED"
	PortalPartiallyFailed PortalStatus = "PARTIALLY_FAILED"
	PortalFailed          PortalStatus = "FAILED"
)

var validRunTransitions = map[RunStatus][]RunStatus{
	RunPending:     {RunRunning},
	RunRunning:     {RunAggregating},
	RunAggregating: {RunComplete, RunPartiallyFailed, RunFailed},
}

// A portal that never got a slot (run timed out first) goes straight to FAILED.
var validPortalTransitions = map[PortalStatus][]PortalStatus{
	PortalScheduled: {PortalInFlight, PortalFailed},
	PortalInFlight:  {PortalSucceeded, PortalPartiallyFailed, PortalFailed},
}

// ParseRunStatus converts a raw string to a RunStatus.
func ParseRunStatus(s string) (RunStatus, error) {
	st := RunStatus(s)
	switch st {
	case RunPending, RunRunning, RunAggregating, RunComplete, RunPartiallyFailed, RunFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown run status %q", s)
}

// ParsePortalStatus converts a raw string to a PortalStatus.
func ParsePortalStatus(s string) (PortalStatus, error) {
	st := PortalStatus(s)
	switch st {
	case PortalScheduled, PortalInFlight, PortalSucceeded, PortalPartiallyFailed, PortalFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown portal status %q", s)
}

// UnmarshalText rejects unknown statuses when decoding stored runs.
func (s *RunStatus) UnmarshalText(b []byte) error {
	st, err := ParseRunStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

func (s *PortalStatus) UnmarshalText(b []byte) error {
	st, err := ParsePortalStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// IsRunTransitionAllowed returns true when moving from → to is permitted.
func IsRunTransitionAllowed(from, to RunStatus) bool {
	for _, s := range validRunTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsPortalTransitionAllowed returns true when moving from → to is permitted.
func IsPortalTransitionAllowed(from, to PortalStatus) bool {
	for _, s := range validPortalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a run has finished.
func (s RunStatus) IsTerminal() bool {
	return s == RunComplete || s == RunPartiallyFailed || s == RunFailed
}

// IsTerminal reports whether a portal has finished.
func (s PortalStatus) IsTerminal() bool {
	return s == PortalSucceeded || s == PortalPartiallyFailed || s == PortalFailed
}

// Yielded reports whether the portal contributed results.
func (s PortalStatus) Yielded() bool {
	return s == PortalSucceeded || s == PortalPartiallyFailed
}

// Tier is the priority bucket derived from a relevance score.
// The zero value is TierExcluded.
type Tier int

const (
	TierExcluded Tier = iota
	TierLow
	TierMedium
	TierHigh
)

func (t Tier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	default:
		return "excluded"
	}
}

// ParseTier converts "low", "medium", "high" or "excluded" to a Tier.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "excluded":
		return TierExcluded, nil
	case "low":
		return TierLow, nil
	case "medium":
		return TierMedium, nil
	case "high":
		return TierHigh, nil
	}
	return TierExcluded, fmt.Errorf("unknown tier %q", s)
}

// MarshalText encodes the tier by name.
func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText decodes a tier name.
func (t *Tier) UnmarshalText(b []byte) error {
	v, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

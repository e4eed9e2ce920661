package model

import (
	"fmt"
	"sort"
	"time"
)

// ScanRun is one execution of the orchestrator across all enabled portals.
// Only the orchestrator mutates it; after the sink has persisted it, it is
// read-only.
type ScanRun struct {
	ID          string                    `json:"id"`
	StartedAt   time.Time                 `json:"startedAt"`
	CompletedAt time.Time                 `json:"completedAt"`
	Status      RunStatus                 `json:"status"`
	Portals     map[string]*PortalOutcome `json:"portals"`
	// Records are deduplicated, scored and ordered by score descending.
	Records []ScoredRecord `json:"records"`
	// Err carries a run-level note such as the global timeout.
	Err string `json:"error,omitempty"`
}

// NewScanRun returns a PENDING run.
func NewScanRun(id string, startedAt time.Time) *ScanRun {
	return &ScanRun{
		ID:        id,
		StartedAt: startedAt,
		Status:    RunPending,
		Portals:   make(map[string]*PortalOutcome),
	}
}

// Transition moves the run to status to, rejecting moves the state machine
// does not allow.
func (r *ScanRun) Transition(to RunStatus) error {
	if !IsRunTransitionAllowed(r.Status, to) {
		return fmt.Errorf("run transition %s → %s is not allowed", r.Status, to)
	}
	r.Status = to
	return nil
}

// PortalNames returns the portal keys in sorted order.
func (r *ScanRun) PortalNames() []string {
	names := make([]string, 0, len(r.Portals))
	for n := range r.Portals {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// StrategyOutcome records how one search strategy ended.
type StrategyOutcome struct {
	Term    string `json:"term"`
	Status  string `json:"status"`
	Pages   int    `json:"pages"`
	Records int    `json:"records"`
	Error   string `json:"error,omitempty"`
}

// PortalOutcome is the per-portal result metadata of a run.
type PortalOutcome struct {
	Portal     string            `json:"portal"`
	Status     PortalStatus      `json:"status"`
	Records    int               `json:"records"` // raw records extracted
	Kept       int               `json:"kept"`    // records that normalized
	Dropped    int               `json:"dropped"` // malformed records
	Strategies []StrategyOutcome `json:"strategies,omitempty"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"startedAt,omitempty"`
	FinishedAt time.Time         `json:"finishedAt,omitempty"`
}

// Transition moves the portal to status to.
func (p *PortalOutcome) Transition(to PortalStatus) error {
	if !IsPortalTransitionAllowed(p.Status, to) {
		return fmt.Errorf("portal %s transition %s → %s is not allowed", p.Portal, p.Status, to)
	}
	p.Status = to
	return nil
}

// Summary is an aggregate view of a run for reporting.
type Summary struct {
	Total    int                  `json:"total"`
	ByTier   map[string]int       `json:"byTier"`
	ByStatus map[PortalStatus]int `json:"byStatus"`
	Expired  int                  `json:"expired"`
	Duration time.Duration        `json:"duration"`
}

// Summary counts records by tier and portals by status.
func (r *ScanRun) Summary() Summary {
	s := Summary{
		Total:    len(r.Records),
		ByTier:   make(map[string]int),
		ByStatus: make(map[PortalStatus]int),
	}
	for _, rec := range r.Records {
		s.ByTier[rec.Tier.String()]++
		if rec.Expired {
			s.Expired++
		}
	}
	for _, p := range r.Portals {
		s.ByStatus[p.Status]++
	}
	if !r.CompletedAt.IsZero() {
		s.Duration = r.CompletedAt.Sub(r.StartedAt)
	}
	return s
}

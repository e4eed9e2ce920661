// Package scan runs one scan across every enabled portal: it fans portal
// tasks out under a concurrency cap, joins their results, deduplicates and
// ranks them, and hands the finished run to the sink exactly once.
package scan

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tenderscan/scanner-service/internal/dedup"
	"tenderscan/scanner-service/internal/extractor"
	"tenderscan/scanner-service/internal/metrics"
	"tenderscan/scanner-service/internal/model"
	"tenderscan/scanner-service/internal/normalize"
	"tenderscan/scanner-service/internal/pagination"
	"tenderscan/scanner-service/internal/scoring"
	"tenderscan/scanner-service/internal/session"
)

const (
	DefaultMaxConcurrency = 4
	DefaultTimeout        = 2 * time.Hour
	DefaultSinkTimeout    = time.Minute
)

var (
	// ErrNoPortals is returned when the catalog has no enabled portal.
	ErrNoPortals = errors.New("no enabled portals")
	// ErrGlobalTimeout is recorded on a run whose time limit elapsed.
	ErrGlobalTimeout = errors.New("global scan timeout elapsed")
	// ErrCancelled is recorded on a run whose caller gave up.
	ErrCancelled = errors.New("scan cancelled")
)

// Sink persists a finished run.
type Sink interface {
	Save(ctx context.Context, run *model.ScanRun) error
}

// Options configure an Orchestrator. Registry and Sink are required.
type Options struct {
	Registry *extractor.Registry
	Sessions *session.Pool
	// Client is shared by extractors that keep no session state.
	Client  *http.Client
	Scoring scoring.Config
	Driver  *pagination.Driver

	MaxConcurrency      int
	StrategyConcurrency int
	Timeout             time.Duration
	SinkTimeout         time.Duration

	Sink    Sink
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	Clock   func() time.Time
	NewID   func() string
}

// Orchestrator runs scans. It holds no per-run state, so one instance can
// serve the scheduler and manual triggers alike.
type Orchestrator struct {
	registry    *extractor.Registry
	sessions    *session.Pool
	client      *http.Client
	scoring     scoring.Config
	fanout      *pagination.FanOut
	maxParallel int
	timeout     time.Duration
	sinkTimeout time.Duration
	sink        Sink
	metrics     *metrics.Metrics
	logger      *zap.Logger
	clock       func() time.Time
	newID       func() string
}

// New builds an Orchestrator, filling unset options with defaults.
func New(opts Options) (*Orchestrator, error) {
	if opts.Registry == nil {
		return nil, errors.New("scan: registry is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("scan: sink is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewPool(1, pagination.DefaultRequestTimeout)
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: pagination.DefaultRequestTimeout}
	}
	if opts.Driver == nil {
		opts.Driver = pagination.NewDriver(pagination.Options{
			PolitenessDelay: pagination.DefaultPolitenessDelay,
			Metrics:         opts.Metrics,
			Logger:          opts.Logger.Named("pagination"),
		})
	}
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = DefaultSinkTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Scoring.Positive == nil && opts.Scoring.Negative == nil {
		opts.Scoring = scoring.DefaultConfig()
	}

	return &Orchestrator{
		registry:    opts.Registry,
		sessions:    opts.Sessions,
		client:      opts.Client,
		scoring:     opts.Scoring,
		fanout:      pagination.NewFanOut(opts.Driver, opts.StrategyConcurrency),
		maxParallel: opts.MaxConcurrency,
		timeout:     opts.Timeout,
		sinkTimeout: opts.SinkTimeout,
		sink:        opts.Sink,
		metrics:     opts.Metrics,
		logger:      opts.Logger.Named("orchestrator"),
		clock:       opts.Clock,
		newID:       opts.NewID,
	}, nil
}

// RunScan scans every enabled portal and returns the finished run.
//
// Portal failures never fail the call: they are recorded on the run. The
// only errors are ErrNoPortals and a sink failure, in which case the run is
// returned alongside the error.
func (o *Orchestrator) RunScan(ctx context.Context, portals []model.PortalDescriptor) (*model.ScanRun, error) {
	enabled := enabledPortals(portals)
	if len(enabled) == 0 {
		return nil, ErrNoPortals
	}

	run := model.NewScanRun(o.newID(), o.clock())
	log := o.logger.With(zap.String("run_id", run.ID))
	for _, p := range enabled {
		run.Portals[p.Name] = &model.PortalOutcome{Portal: p.Name, Status: model.PortalScheduled}
	}
	_ = run.Transition(model.RunRunning)
	log.Info("scan started", zap.Int("portals", len(enabled)), zap.Duration("timeout", o.timeout))

	scorer := scoring.New(o.scoring.WithPortalBonuses(enabled), run.StartedAt)

	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	// Each task writes only its own slots and outcome; the join below is the
	// only reader.
	collected := make([][]model.ScoredRecord, len(enabled))
	inTime := make([]bool, len(enabled))
	var g errgroup.Group
	g.SetLimit(o.maxParallel)
	for i, p := range enabled {
		out := run.Portals[p.Name]
		g.Go(func() error {
			collected[i] = o.scanPortal(runCtx, p, out, scorer, log)
			inTime[i] = runCtx.Err() == nil
			return nil
		})
	}
	_ = g.Wait()

	_ = run.Transition(model.RunAggregating)
	var all []model.ScoredRecord
	for _, recs := range collected {
		all = append(all, recs...)
	}
	merged := dedup.New(scorer).Run(all)
	byName := make(map[string]model.PortalDescriptor, len(enabled))
	for _, p := range enabled {
		byName[p.Name] = p
	}
	run.Records = make([]model.ScoredRecord, 0, len(merged))
	for _, r := range merged {
		if r.Tier == model.TierExcluded {
			continue
		}
		if p, ok := byName[r.Source]; ok {
			normalize.Fallback(p, &r.NormalizedRecord)
		}
		run.Records = append(run.Records, r)
	}

	finishedInTime := make(map[string]bool, len(enabled))
	for i, p := range enabled {
		finishedInTime[p.Name] = inTime[i]
	}

	stopped := runCtx.Err()
	switch {
	case errors.Is(stopped, context.DeadlineExceeded) && ctx.Err() == nil:
		run.Err = ErrGlobalTimeout.Error()
	case stopped != nil:
		run.Err = ErrCancelled.Error()
	}
	_ = run.Transition(finalStatus(run, stopped != nil, finishedInTime))
	run.CompletedAt = o.clock()

	summary := run.Summary()
	o.metrics.RunFinished(string(run.Status), summary.Duration, summary.ByTier)
	log.Info("scan finished",
		zap.String("status", string(run.Status)),
		zap.Int("collected", len(all)),
		zap.Int("unique", len(merged)),
		zap.Int("records", len(run.Records)),
		zap.Duration("duration", summary.Duration),
		zap.String("note", run.Err))

	saveCtx, cancelSave := context.WithTimeout(context.WithoutCancel(ctx), o.sinkTimeout)
	defer cancelSave()
	if err := o.sink.Save(saveCtx, run); err != nil {
		log.Error("persisting scan run failed", zap.Error(err))
		return run, fmt.Errorf("persist scan run %s: %w", run.ID, err)
	}
	return run, nil
}

// finalStatus derives the run status from its portal outcomes. A run that
// was stopped before any yielding portal finished is a failure even when
// the interrupted portals kept some partial records.
func finalStatus(run *model.ScanRun, stopped bool, finishedInTime map[string]bool) model.RunStatus {
	succeeded, yielded, yieldedInTime := 0, 0, 0
	for name, p := range run.Portals {
		if p.Status == model.PortalSucceeded {
			succeeded++
		}
		if p.Status.Yielded() {
			yielded++
			if finishedInTime[name] {
				yieldedInTime++
			}
		}
	}
	switch {
	case succeeded == len(run.Portals):
		return model.RunComplete
	case yielded == 0:
		return model.RunFailed
	case stopped && yieldedInTime == 0:
		return model.RunFailed
	default:
		return model.RunPartiallyFailed
	}
}

// enabledPortals keeps enabled descriptors, first one wins on a repeated
// name. Higher priority portals are scheduled first.
func enabledPortals(portals []model.PortalDescriptor) []model.PortalDescriptor {
	seen := make(map[string]bool, len(portals))
	out := make([]model.PortalDescriptor, 0, len(portals))
	for _, p := range portals {
		if !p.Enabled || p.Name == "" || seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PriorityBonus > out[j].PriorityBonus })
	return out
}

// Package pagination drives an extractor page by page until the portal is
// exhausted, the page budget is spent, or the source keeps failing.
package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tenderscan/scanner-service/internal/extractor"
	"tenderscan/scanner-service/internal/metrics"
	"tenderscan/scanner-service/internal/session"
)

const (
	DefaultMaxPages               = 15
	DefaultMaxConsecutiveFailures = 3
	DefaultPolitenessDelay        = 2 * time.Second
	DefaultRequestTimeout         = 30 * time.Second
)

// ErrExtractorPanic is wrapped in the error recorded for a panicking extractor.
var ErrExtractorPanic = errors.New("extractor panicked")

// Status says why a strategy stopped.
type Status string

const (
	StatusComplete        Status = "complete"
	StatusBudgetExhausted Status = "budget_exhausted"
	StatusCircuitBroken   Status = "circuit_broken"
	StatusAborted         Status = "aborted"   // permanent portal error
	StatusCancelled       Status = "cancelled" // run cancelled or timed out
	StatusSkipped         Status = "skipped"   // never started
)

// Politeness enforces a minimum gap between consecutive requests to one
// portal. It is shared by every strategy of that portal.
type Politeness struct {
	limiter *rate.Limiter
}

// NewPoliteness returns a gate allowing one request per delay. The first
// request passes immediately. A non-positive delay disables the gate.
func NewPoliteness(delay time.Duration) *Politeness {
	if delay <= 0 {
		return &Politeness{}
	}
	return &Politeness{limiter: rate.NewLimiter(rate.Every(delay), 1)}
}

// Wait suspends until the next request may be sent or ctx is done.
func (p *Politeness) Wait(ctx context.Context) error {
	if p == nil || p.limiter == nil {
		return ctx.Err()
	}
	return p.limiter.Wait(ctx)
}

// Result is what one strategy produced.
type Result struct {
	Term     string
	Records  []extractor.RawRecord
	Pages    int
	Failures int
	Status   Status
	Err      error
}

// Options configure a Driver.
type Options struct {
	PolitenessDelay        time.Duration
	RequestTimeout         time.Duration
	MaxConsecutiveFailures int
	DefaultMaxPages        int
	Metrics                *metrics.Metrics
	Logger                 *zap.Logger
}

// Driver repeatedly requests successive pages from an extractor.
type Driver struct {
	delay          time.Duration
	requestTimeout time.Duration
	maxFailures    int
	defaultPages   int
	metrics        *metrics.Metrics
	logger         *zap.Logger
}

// NewDriver applies defaults for zero-valued options. PolitenessDelay is
// taken as given: zero disables the gap.
func NewDriver(opts Options) *Driver {
	d := &Driver{
		delay:          opts.PolitenessDelay,
		requestTimeout: opts.RequestTimeout,
		maxFailures:    opts.MaxConsecutiveFailures,
		defaultPages:   opts.DefaultMaxPages,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
	}
	if d.requestTimeout <= 0 {
		d.requestTimeout = DefaultRequestTimeout
	}
	if d.maxFailures <= 0 {
		d.maxFailures = DefaultMaxConsecutiveFailures
	}
	if d.defaultPages <= 0 {
		d.defaultPages = DefaultMaxPages
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	return d
}

// NewPoliteness returns a gate configured with the driver's delay.
func (d *Driver) NewPoliteness() *Politeness { return NewPoliteness(d.delay) }

// Run pages through ex for one search term, at most budget pages.
//
// Cancellation is observed between pages only: an in-flight fetch runs to
// completion (bounded by the request timeout) before the driver stops.
// A transient failure retries the same page; pages never go backwards.
func (d *Driver) Run(
	ctx context.Context,
	ex extractor.Extractor,
	sess session.Session,
	polite *Politeness,
	term string,
	budget int,
) Result {
	if budget <= 0 {
		budget = d.defaultPages
	}
	log := d.logger.With(zap.String("portal", ex.Name()), zap.String("strategy", term))

	res := Result{Term: term}
	page := 1
	consecutive := 0

	for {
		if res.Pages >= budget {
			res.Status = StatusBudgetExhausted
			log.Info("page budget exhausted", zap.Int("pages", res.Pages))
			return res
		}
		if err := ctx.Err(); err != nil {
			res.Status, res.Err = StatusCancelled, err
			return res
		}
		if err := polite.Wait(ctx); err != nil {
			res.Status, res.Err = StatusCancelled, err
			return res
		}

		p, err := d.fetch(ctx, ex, sess, extractor.PageRequest{Term: term, Page: page})
		if err != nil {
			if extractor.IsPermanent(err) {
				d.metrics.FetchFailed(ex.Name(), "permanent")
				log.Warn("permanent failure, abandoning portal", zap.Int("page", page), zap.Error(err))
				res.Status, res.Err = StatusAborted, err
				return res
			}

			consecutive++
			res.Failures++
			// Unclassified errors are retried like transient ones.
			reason := "transient"
			if !extractor.IsTransient(err) {
				reason = "unclassified"
			}
			d.metrics.FetchFailed(ex.Name(), reason)
			log.Warn("transient failure", zap.Int("page", page), zap.Int("consecutive", consecutive), zap.Error(err))
			if consecutive >= d.maxFailures {
				res.Status, res.Err = StatusCircuitBroken, err
				return res
			}
			continue
		}

		consecutive = 0
		res.Pages++
		res.Records = append(res.Records, p.Records...)
		d.metrics.PageFetched(ex.Name())
		log.Debug("page fetched", zap.Int("page", page), zap.Int("records", len(p.Records)))

		if !p.HasMore {
			res.Status = StatusComplete
			return res
		}
		page++
	}
}

// fetch runs one request detached from the run's cancellation. A panicking
// extractor is reported as a permanent failure of its portal.
func (d *Driver) fetch(ctx context.Context, ex extractor.Extractor, sess session.Session, req extractor.PageRequest) (page extractor.Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			page, err = extractor.Page{}, extractor.Permanent(ex.Name(), fmt.Errorf("%w: %v", ErrExtractorPanic, r))
		}
	}()

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.requestTimeout)
	defer cancel()
	return ex.FetchPage(fctx, sess, req)
}

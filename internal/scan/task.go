package scan

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"tenderscan/scanner-service/internal/extractor"
	"tenderscan/scanner-service/internal/model"
	"tenderscan/scanner-service/internal/normalize"
	"tenderscan/scanner-service/internal/pagination"
	"tenderscan/scanner-service/internal/scoring"
	"tenderscan/scanner-service/internal/session"
)

// scanPortal runs every strategy of one portal and returns its scored
// records. The outcome is owned by this call until it returns. Whatever goes
// wrong stays on this portal's outcome.
func (o *Orchestrator) scanPortal(
	ctx context.Context,
	desc model.PortalDescriptor,
	out *model.PortalOutcome,
	scorer *scoring.Scorer,
	runLog *zap.Logger,
) (records []model.ScoredRecord) {
	log := runLog.With(zap.String("portal", desc.Name))

	if err := ctx.Err(); err != nil {
		out.Error = fmt.Sprintf("not started: %v", err)
		_ = out.Transition(model.PortalFailed)
		o.metrics.PortalFinished(desc.Name, string(out.Status), 0)
		log.Warn("portal skipped, run already stopped", zap.Error(err))
		return nil
	}

	_ = out.Transition(model.PortalInFlight)
	out.StartedAt = o.clock()
	o.metrics.PortalStarted()
	defer func() {
		if r := recover(); r != nil {
			o.metrics.FetchFailed(desc.Name, "panic")
			log.Error("portal task panicked", zap.Any("panic", r), zap.Stack("stack"))
			out.Error = fmt.Sprintf("panic: %v", r)
			out.Status = model.PortalFailed
		}
		out.FinishedAt = o.clock()
		o.metrics.PortalFinished(desc.Name, string(out.Status), out.Kept)
		log.Info("portal finished",
			zap.String("status", string(out.Status)),
			zap.Int("records", out.Records),
			zap.Int("kept", out.Kept),
			zap.Int("dropped", out.Dropped),
			zap.Duration("took", out.FinishedAt.Sub(out.StartedAt)))
	}()

	ex, ok := o.registry.Lookup(desc.Name)
	if !ok {
		out.Error = "no extractor registered for portal"
		_ = out.Transition(model.PortalFailed)
		return nil
	}

	sess, err := o.openSession(ctx, ex)
	if err != nil {
		out.Error = err.Error()
		_ = out.Transition(model.PortalFailed)
		return nil
	}
	defer sess.Close()

	res := o.fanout.Run(ctx, desc, ex, sess)

	raw := res.Records()
	out.Records = len(raw)
	records = make([]model.ScoredRecord, 0, len(raw))
	for _, r := range raw {
		n, err := normalize.Normalize(desc, r)
		if err != nil {
			out.Dropped++
			if extractor.IsMalformed(err) {
				log.Debug("record dropped", zap.Error(err))
			} else {
				log.Warn("record dropped", zap.Error(err))
			}
			continue
		}
		records = append(records, scorer.Score(n))
	}
	out.Kept = len(records)

	out.Strategies = make([]model.StrategyOutcome, len(res.Results))
	for i, r := range res.Results {
		so := model.StrategyOutcome{Term: r.Term, Status: string(r.Status), Pages: r.Pages, Records: len(r.Records)}
		if r.Err != nil {
			so.Error = r.Err.Error()
		}
		out.Strategies[i] = so
	}

	status := portalStatus(res, out.Records)
	if res.Err != nil {
		out.Error = res.Err.Error()
	} else if status != model.PortalSucceeded {
		out.Error = firstStrategyError(res)
	}
	_ = out.Transition(status)
	return records
}

// openSession gives session-bound extractors their own pooled session and
// everyone else the shared client.
func (o *Orchestrator) openSession(ctx context.Context, ex extractor.Extractor) (session.Session, error) {
	if !extractor.NeedsSession(ex) {
		return session.Shared(o.client), nil
	}
	return o.sessions.Acquire(ctx)
}

// portalStatus classifies a finished fan-out. A permanent error fails the
// portal even when earlier strategies brought records back.
func portalStatus(res pagination.FanOutResult, records int) model.PortalStatus {
	if res.Err != nil {
		return model.PortalFailed
	}
	troubled := 0
	for _, r := range res.Results {
		switch r.Status {
		case pagination.StatusCircuitBroken, pagination.StatusCancelled, pagination.StatusSkipped:
			troubled++
		}
	}
	switch {
	case troubled == 0:
		return model.PortalSucceeded
	case troubled == len(res.Results) && records == 0:
		return model.PortalFailed
	default:
		return model.PortalPartiallyFailed
	}
}

func firstStrategyError(res pagination.FanOutResult) string {
	for _, r := range res.Results {
		if r.Err != nil {
			return fmt.Sprintf("strategy %q: %v", r.Term, r.Err)
		}
	}
	return ""
}

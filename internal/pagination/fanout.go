package pagination

import (
	"context"

	"golang.org/x/sync/errgroup"

	"tenderscan/scanner-service/internal/extractor"
	"tenderscan/scanner-service/internal/model"
	"tenderscan/scanner-service/internal/session"
)

// FanOut runs the pagination driver once per search strategy of a portal.
type FanOut struct {
	driver *Driver
	// concurrency caps strategies in flight for one portal; 1 runs them in order.
	concurrency int
}

// NewFanOut returns a FanOut; concurrency below 1 means sequential.
func NewFanOut(driver *Driver, concurrency int) *FanOut {
	if concurrency < 1 {
		concurrency = 1
	}
	return &FanOut{driver: driver, concurrency: concurrency}
}

// FanOutResult holds one Result per strategy, in strategy order.
type FanOutResult struct {
	Results []Result
	// Err is the permanent error that abandoned the portal, if any.
	Err error
}

// Records concatenates every strategy's records in strategy order. Nothing
// is de-duplicated here: the same tender may come back from two strategies
// with different completeness, and the global deduplicator merges them.
func (r FanOutResult) Records() []extractor.RawRecord {
	n := 0
	for _, res := range r.Results {
		n += len(res.Records)
	}
	out := make([]extractor.RawRecord, 0, n)
	for _, res := range r.Results {
		out = append(out, res.Records...)
	}
	return out
}

// Run executes every effective strategy of desc. A circuit break in one
// strategy leaves the others running; a permanent error stops the rest.
func (f *FanOut) Run(ctx context.Context, desc model.PortalDescriptor, ex extractor.Extractor, sess session.Session) FanOutResult {
	terms := desc.EffectiveStrategies()
	results := make([]Result, len(terms))
	for i, term := range terms {
		results[i] = Result{Term: term, Status: StatusSkipped}
	}

	polite := f.driver.NewPoliteness()
	ctx, abandon := context.WithCancel(ctx)
	defer abandon()

	if f.concurrency == 1 {
		for i, term := range terms {
			if ctx.Err() != nil {
				break
			}
			results[i] = f.driver.Run(ctx, ex, sess, polite, term, desc.MaxPages)
			if results[i].Status == StatusAborted {
				break
			}
		}
	} else {
		var g errgroup.Group
		g.SetLimit(f.concurrency)
		for i, term := range terms {
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				results[i] = f.driver.Run(ctx, ex, sess, polite, term, desc.MaxPages)
				if results[i].Status == StatusAborted {
					abandon()
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	out := FanOutResult{Results: results}
	for _, r := range results {
		if r.Status == StatusAborted {
			out.Err = r.Err
			break
		}
	}
	return out
}

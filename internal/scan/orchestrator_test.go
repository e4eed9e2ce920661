package scan_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tenderscan/scanner-service/internal/extractor"
	"tenderscan/scanner-service/internal/model"
	"tenderscan/scanner-service/internal/pagination"
	"tenderscan/scanner-service/internal/scan"
	"tenderscan/scanner-service/internal/scoring"
	"tenderscan/scanner-service/internal/session"
)

var now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type mockSink struct{ mock.Mock }

func (m *mockSink) Save(ctx context.Context, run *model.ScanRun) error {
	return m.Called(ctx, run).Error(0)
}

func acceptingSink() *mockSink {
	s := &mockSink{}
	s.On("Save", mock.Anything, mock.Anything).Return(nil).Once()
	return s
}

// fakeExtractor answers every request with fn.
type fakeExtractor struct {
	name    string
	session bool
	fn      func(ctx context.Context, req extractor.PageRequest) (extractor.Page, error)
}

func (f *fakeExtractor) Name() string          { return f.name }
func (f *fakeExtractor) RequiresSession() bool { return f.session }

func (f *fakeExtractor) FetchPage(ctx context.Context, _ session.Session, req extractor.PageRequest) (extractor.Page, error) {
	return f.fn(ctx, req)
}

func listing(records ...extractor.RawRecord) func(context.Context, extractor.PageRequest) (extractor.Page, error) {
	return func(context.Context, extractor.PageRequest) (extractor.Page, error) {
		return extractor.Page{Records: records}, nil
	}
}

func portal(name string, strategies ...string) model.PortalDescriptor {
	return model.PortalDescriptor{
		Name:              name,
		Kind:              "fake",
		BaseURL:           "https://" + name + ".test",
		Strategies:        strategies,
		UnfilteredListing: true,
		MaxPages:          5,
		Enabled:           true,
	}
}

type setup struct {
	sink     *mockSink
	sessions *session.Pool
	timeout  time.Duration
	parallel int
}

func newOrchestrator(t *testing.T, s setup, extractors ...extractor.Extractor) *scan.Orchestrator {
	t.Helper()
	if s.sink == nil {
		s.sink = acceptingSink()
	}
	if s.sessions == nil {
		s.sessions = session.NewPool(2, time.Second)
	}
	o, err := scan.New(scan.Options{
		Registry: extractor.RegistryOf(extractors...),
		Sessions: s.sessions,
		Scoring:  scoring.DefaultConfig(),
		Driver: pagination.NewDriver(pagination.Options{
			RequestTimeout:         time.Second,
			MaxConsecutiveFailures: 3,
		}),
		MaxConcurrency: s.parallel,
		Timeout:        s.timeout,
		Sink:           s.sink,
		Clock:          func() time.Time { return now },
		NewID:          func() string { return "run-1" },
	})
	require.NoError(t, err)
	return o
}

func titles(run *model.ScanRun) []string {
	out := make([]string, len(run.Records))
	for i, r := range run.Records {
		out[i] = r.Title
	}
	return out
}

func TestRunScan_PartialFailureIsolation(t *testing.T) {
	healthy := &fakeExtractor{name: "Healthy", fn: listing(
		extractor.RawRecord{Title: "Leadership training program", Organization: "City of Guelph"},
	)}
	locked := &fakeExtractor{name: "Locked", fn: func(context.Context, extractor.PageRequest) (extractor.Page, error) {
		return extractor.Page{}, extractor.Permanent("Locked", extractor.ErrAuthRejected)
	}}
	var flakyCalls atomic.Int32
	flaky := &fakeExtractor{name: "Flaky", fn: func(context.Context, extractor.PageRequest) (extractor.Page, error) {
		flakyCalls.Add(1)
		return extractor.Page{}, extractor.Transient("Flaky", errors.New("connection reset"))
	}}
	sink := acceptingSink()
	o := newOrchestrator(t, setup{sink: sink}, healthy, locked, flaky)

	run, err := o.RunScan(context.Background(), []model.PortalDescriptor{
		portal("Healthy"), portal("Locked"), portal("Flaky"),
	})

	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, model.RunPartiallyFailed, run.Status)
	assert.Equal(t, model.PortalSucceeded, run.Portals["Healthy"].Status)
	assert.Equal(t, model.PortalFailed, run.Portals["Locked"].Status)
	assert.Contains(t, run.Portals["Locked"].Error, "authentication rejected")
	assert.Equal(t, model.PortalFailed, run.Portals["Flaky"].Status)
	assert.Equal(t, string(pagination.StatusCircuitBroken), run.Portals["Flaky"].Strategies[0].Status)
	assert.Equal(t, int32(3), flakyCalls.Load())
	assert.Equal(t, []string{"Leadership training program"}, titles(run))
	assert.Equal(t, now, run.CompletedAt)
	sink.AssertNumberOfCalls(t, "Save", 1)
}

func TestRunScan_MergesAcrossPortalsAndDropsExcluded(t *testing.T) {
	// Both portals republish the same notice from a shared aggregator.
	alpha := &fakeExtractor{name: "Alpha", fn: listing(
		extractor.RawRecord{
			Title:        "Staff Training Services",
			Organization: "City of Ottawa",
			Portal:       "Shared Portal",
			Description:  "Delivery of staff training",
		},
		extractor.RawRecord{Title: "Snow removal and paving", Organization: "City of Ottawa"},
	)}
	beta := &fakeExtractor{name: "Beta", fn: listing(
		extractor.RawRecord{
			Title:        "Staff  training services",
			Organization: "City of Ottawa",
			Portal:       "Shared Portal",
			ValueText:    "$750,000",
		},
		extractor.RawRecord{Title: "Executive coaching for directors", Organization: "Health Canada"},
	)}
	o := newOrchestrator(t, setup{}, alpha, beta)

	run, err := o.RunScan(context.Background(), []model.PortalDescriptor{portal("Alpha"), portal("Beta")})

	require.NoError(t, err)
	assert.Equal(t, model.RunComplete, run.Status)
	require.Len(t, run.Records, 2)

	assert.Equal(t, []string{"Staff Training Services", "Executive coaching for directors"}, titles(run))
	merged := run.Records[0]
	assert.Equal(t, "Delivery of staff training", merged.Description)
	require.NotNil(t, merged.Value)
	assert.Equal(t, 750000.0, *merged.Value)
	assert.Equal(t, model.TierMedium, merged.Tier)

	assert.Equal(t, 2, run.Portals["Alpha"].Kept)
	assert.Equal(t, 1, run.Summary().ByTier["medium"])
}

func TestRunScan_StrategiesOfOnePortalCollapse(t *testing.T) {
	ex := &fakeExtractor{name: "Merx", fn: listing(
		extractor.RawRecord{Title: "Cybersecurity awareness training", Organization: "Transport Canada"},
	)}
	o := newOrchestrator(t, setup{}, ex)

	run, err := o.RunScan(context.Background(), []model.PortalDescriptor{portal("Merx", "training", "cybersecurity")})

	require.NoError(t, err)
	require.Len(t, run.Records, 1)
	assert.Len(t, run.Portals["Merx"].Strategies, 3)
	assert.Equal(t, 3, run.Portals["Merx"].Records)
	assert.Contains(t, run.Records[0].MatchedCourses, "Cybersecurity Training")
}

func TestRunScan_PanicReleasesSession(t *testing.T) {
	pool := session.NewPool(1, time.Second)
	broken := &fakeExtractor{name: "Broken", session: true, fn: func(context.Context, extractor.PageRequest) (extractor.Page, error) {
		var m map[string]int
		m["boom"]++
		return extractor.Page{}, nil
	}}
	healthy := &fakeExtractor{name: "Healthy", session: true, fn: listing(
		extractor.RawRecord{Title: "Project management training", Organization: "City of Laval"},
	)}
	o := newOrchestrator(t, setup{sessions: pool, parallel: 1}, broken, healthy)

	run, err := o.RunScan(context.Background(), []model.PortalDescriptor{portal("Broken"), portal("Healthy")})

	require.NoError(t, err)
	assert.Equal(t, 0, pool.InUse())
	assert.Equal(t, model.PortalFailed, run.Portals["Broken"].Status)
	assert.Contains(t, run.Portals["Broken"].Error, "panicked")
	assert.Equal(t, model.PortalSucceeded, run.Portals["Healthy"].Status)
	assert.Equal(t, model.RunPartiallyFailed, run.Status)
}

func TestRunScan_TimeoutKeepsCollectedResults(t *testing.T) {
	fast := &fakeExtractor{name: "Fast", fn: listing(
		extractor.RawRecord{Title: "Leadership workshop facilitation", Organization: "City of Regina"},
	)}
	slow := &fakeExtractor{name: "Slow", fn: func(_ context.Context, req extractor.PageRequest) (extractor.Page, error) {
		time.Sleep(20 * time.Millisecond)
		return extractor.Page{
			Records: []extractor.RawRecord{{Title: fmt.Sprintf("Training cohort %d", req.Page), Organization: "Yukon"}},
			HasMore: true,
		}, nil
	}}
	o := newOrchestrator(t, setup{timeout: 150 * time.Millisecond}, fast, slow)
	slowPortal := portal("Slow")
	slowPortal.MaxPages = 10000

	run, err := o.RunScan(context.Background(), []model.PortalDescriptor{portal("Fast"), slowPortal})

	require.NoError(t, err)
	assert.Equal(t, scan.ErrGlobalTimeout.Error(), run.Err)
	assert.Equal(t, model.RunPartiallyFailed, run.Status)
	assert.Equal(t, model.PortalSucceeded, run.Portals["Fast"].Status)
	assert.Equal(t, model.PortalPartiallyFailed, run.Portals["Slow"].Status)
	assert.Equal(t, string(pagination.StatusCancelled), run.Portals["Slow"].Strategies[0].Status)
	assert.Greater(t, run.Portals["Slow"].Kept, 0)
	assert.Contains(t, titles(run), "Training cohort 1")
}

// idle pages forever without producing anything.
func idle(delay time.Duration) func(context.Context, extractor.PageRequest) (extractor.Page, error) {
	return func(context.Context, extractor.PageRequest) (extractor.Page, error) {
		time.Sleep(delay)
		return extractor.Page{HasMore: true}, nil
	}
}

func TestRunScan_TimeoutAfterPartialPortalFinished(t *testing.T) {
	mixed := &fakeExtractor{name: "Mixed", fn: func(_ context.Context, req extractor.PageRequest) (extractor.Page, error) {
		if req.Term == "training" {
			return extractor.Page{}, extractor.Transient("Mixed", errors.New("search backend down"))
		}
		return extractor.Page{Records: []extractor.RawRecord{{Title: "Leadership training program", Organization: "City of Guelph"}}}, nil
	}}
	slow := &fakeExtractor{name: "Slow", fn: idle(40 * time.Millisecond)}
	o := newOrchestrator(t, setup{timeout: 150 * time.Millisecond}, mixed, slow)
	slowPortal := portal("Slow")
	slowPortal.MaxPages = 10000

	run, err := o.RunScan(context.Background(), []model.PortalDescriptor{portal("Mixed", "training"), slowPortal})

	require.NoError(t, err)
	assert.Equal(t, model.PortalPartiallyFailed, run.Portals["Mixed"].Status)
	assert.Equal(t, model.PortalFailed, run.Portals["Slow"].Status)
	assert.Equal(t, scan.ErrGlobalTimeout.Error(), run.Err)
	assert.Equal(t, model.RunPartiallyFailed, run.Status, "a portal yielded before the deadline")
	assert.Equal(t, []string{"Leadership training program"}, titles(run))
}

func TestRunScan_TimeoutBeforeAnyPortalFinished(t *testing.T) {
	slow := &fakeExtractor{name: "Slow", fn: func(_ context.Context, req extractor.PageRequest) (extractor.Page, error) {
		time.Sleep(40 * time.Millisecond)
		return extractor.Page{
			Records: []extractor.RawRecord{{Title: fmt.Sprintf("Training cohort %d", req.Page), Organization: "Yukon"}},
			HasMore: true,
		}, nil
	}}
	o := newOrchestrator(t, setup{timeout: 150 * time.Millisecond}, slow)
	slowPortal := portal("Slow")
	slowPortal.MaxPages = 10000

	run, err := o.RunScan(context.Background(), []model.PortalDescriptor{slowPortal})

	require.NoError(t, err)
	assert.Equal(t, model.PortalPartiallyFailed, run.Portals["Slow"].Status)
	assert.Equal(t, model.RunFailed, run.Status)
	assert.NotEmpty(t, run.Records, "partial results are still kept")
}

func byTitle(t *testing.T, run *model.ScanRun, title string) model.ScoredRecord {
	t.Helper()
	for _, r := range run.Records {
		if r.Title == title {
			return r
		}
	}
	require.Failf(t, "record not found", "no record titled %q in %v", title, titles(run))
	return model.ScoredRecord{}
}

func TestRunScan_ListingAndSearchPortalsMerge(t *testing.T) {
	shared := extractor.RawRecord{Title: "Leadership Training Program", Organization: "City of Guelph", Portal: "MERX"}

	aShared := shared
	aShared.Description = "Workshops for new supervisors"
	listingOnly := &fakeExtractor{name: "Alpha", fn: func(_ context.Context, req extractor.PageRequest) (extractor.Page, error) {
		assert.Equal(t, 1, req.Page)
		return extractor.Page{Records: []extractor.RawRecord{
			aShared,
			{Title: "Team coaching sessions", Organization: "City of Guelph"},
		}}, nil
	}}

	bShared := shared
	bShared.ValueText = "$90,000"
	bShared.Location = "Guelph, ON"
	search := &fakeExtractor{name: "Beta", fn: func(_ context.Context, req extractor.PageRequest) (extractor.Page, error) {
		if req.Term == "training" {
			return extractor.Page{Records: []extractor.RawRecord{bShared}}, nil
		}
		return extractor.Page{Records: []extractor.RawRecord{
			bShared,
			{Title: "Facilitation training for staff", Organization: "Yukon"},
		}}, nil
	}}
	o := newOrchestrator(t, setup{}, listingOnly, search)
	alpha := portal("Alpha")
	beta := portal("Beta", "training")

	run, err := o.RunScan(context.Background(), []model.PortalDescriptor{alpha, beta})

	require.NoError(t, err)
	assert.Equal(t, model.RunComplete, run.Status)
	assert.Equal(t, []string{"", "training"}, strategyTerms(run.Portals["Beta"]))
	require.Len(t, run.Records, 3)

	merged := byTitle(t, run, "Leadership Training Program")
	assert.Equal(t, "Workshops for new supervisors", merged.Description)
	require.NotNil(t, merged.Value)
	assert.Equal(t, 90000.0, *merged.Value)
	assert.Equal(t, "Guelph, ON", merged.Location)

	rescored := scoring.New(scoring.DefaultConfig().WithPortalBonuses([]model.PortalDescriptor{alpha, beta}), now).Score(merged.NormalizedRecord)
	assert.Equal(t, rescored.Score, merged.Score)
	assert.Equal(t, rescored.Tier, merged.Tier)

	coaching := byTitle(t, run, "Team coaching sessions")
	assert.Equal(t, "https://Alpha.test", coaching.SourceURL, "portal address fills a missing link")
	byTitle(t, run, "Facilitation training for staff")
}

func strategyTerms(out *model.PortalOutcome) []string {
	terms := make([]string, len(out.Strategies))
	for i, s := range out.Strategies {
		terms[i] = s.Term
	}
	sort.Strings(terms)
	return terms
}

func TestRunScan_CancelledRunStillSaved(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ex := &fakeExtractor{name: "Any", fn: listing(extractor.RawRecord{Title: "Training"})}
	sink := acceptingSink()
	o := newOrchestrator(t, setup{sink: sink}, ex)

	run, err := o.RunScan(ctx, []model.PortalDescriptor{portal("Any")})

	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, run.Status)
	assert.Equal(t, scan.ErrCancelled.Error(), run.Err)
	assert.Equal(t, model.PortalFailed, run.Portals["Any"].Status)
	sink.AssertNumberOfCalls(t, "Save", 1)
}

func TestRunScan_NoEnabledPortals(t *testing.T) {
	sink := &mockSink{}
	o := newOrchestrator(t, setup{sink: sink})
	disabled := portal("Off")
	disabled.Enabled = false

	run, err := o.RunScan(context.Background(), []model.PortalDescriptor{disabled})

	assert.ErrorIs(t, err, scan.ErrNoPortals)
	assert.Nil(t, run)
	sink.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestRunScan_SinkFailureIsReturned(t *testing.T) {
	sinkErr := errors.New("database unavailable")
	sink := &mockSink{}
	sink.On("Save", mock.Anything, mock.Anything).Return(sinkErr).Once()
	ex := &fakeExtractor{name: "Any", fn: listing(extractor.RawRecord{Title: "Coaching services"})}
	o := newOrchestrator(t, setup{sink: sink}, ex)

	run, err := o.RunScan(context.Background(), []model.PortalDescriptor{portal("Any")})

	require.ErrorIs(t, err, sinkErr)
	require.NotNil(t, run)
	assert.Equal(t, model.RunComplete, run.Status)
	sink.AssertExpectations(t)
}

func TestRunScan_MissingExtractor(t *testing.T) {
	o := newOrchestrator(t, setup{})

	run, err := o.RunScan(context.Background(), []model.PortalDescriptor{portal("Ghost")})

	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, run.Status)
	assert.Equal(t, model.PortalFailed, run.Portals["Ghost"].Status)
	assert.Contains(t, run.Portals["Ghost"].Error, "no extractor")
	assert.Empty(t, run.Records)
}

func TestRunScan_MalformedRecordsAreDropped(t *testing.T) {
	ex := &fakeExtractor{name: "Sloppy", fn: listing(
		extractor.RawRecord{Title: "  "},
		extractor.RawRecord{Title: "Leadership coaching", Organization: "City of Victoria"},
	)}
	o := newOrchestrator(t, setup{}, ex)

	run, err := o.RunScan(context.Background(), []model.PortalDescriptor{portal("Sloppy")})

	require.NoError(t, err)
	out := run.Portals["Sloppy"]
	assert.Equal(t, 2, out.Records)
	assert.Equal(t, 1, out.Kept)
	assert.Equal(t, 1, out.Dropped)
	assert.Equal(t, model.PortalSucceeded, out.Status)
}

func TestRunScan_RespectsConcurrencyCap(t *testing.T) {
	var inFlight, peak atomic.Int32
	var extractors []extractor.Extractor
	var portals []model.PortalDescriptor
	for i := range 6 {
		name := fmt.Sprintf("P%d", i)
		extractors = append(extractors, &fakeExtractor{name: name, fn: func(context.Context, extractor.PageRequest) (extractor.Page, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			return extractor.Page{}, nil
		}})
		portals = append(portals, portal(name))
	}
	o := newOrchestrator(t, setup{parallel: 2}, extractors...)

	run, err := o.RunScan(context.Background(), portals)

	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, model.RunComplete, run.Status)
}

package dedup_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenderscan/scanner-service/internal/dedup"
	"tenderscan/scanner-service/internal/extractor"
	"tenderscan/scanner-service/internal/model"
	"tenderscan/scanner-service/internal/normalize"
	"tenderscan/scanner-service/internal/scoring"
)

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func newDedup() (*dedup.Deduplicator, *scoring.Scorer) {
	s := scoring.New(scoring.DefaultConfig(), now)
	return dedup.New(s), s
}

func scored(s *scoring.Scorer, r model.NormalizedRecord) model.ScoredRecord {
	return s.Score(r)
}

func TestRun_OneRecordPerFingerprint(t *testing.T) {
	d, s := newDedup()
	in := []model.ScoredRecord{
		scored(s, model.NormalizedRecord{Title: "Leadership Training", Organization: "City of Ottawa", Portal: "bids"}),
		scored(s, model.NormalizedRecord{Title: "  leadership   training ", Organization: "CITY OF OTTAWA", Portal: "Bids"}),
		scored(s, model.NormalizedRecord{Title: "Leadership Training", Organization: "City of Ottawa", Portal: "other"}),
	}

	out := d.Run(in)

	assert.Len(t, out, 2)
}

func TestRun_AccentsDoNotSplitGroups(t *testing.T) {
	d, s := newDedup()
	in := []model.ScoredRecord{
		scored(s, model.NormalizedRecord{Title: "Formation en gestion", Organization: "Ville de Québec", Portal: "SEAO"}),
		scored(s, model.NormalizedRecord{Title: "Formation en gestion", Organization: "Ville de Quebec", Portal: "SEAO"}),
	}

	assert.Len(t, d.Run(in), 1)
}

func TestRun_MergesMostCompleteFields(t *testing.T) {
	d, s := newDedup()
	closing := now.Add(10 * 24 * time.Hour)
	sparse := scored(s, model.NormalizedRecord{
		Title:        "Coaching services",
		Organization: "Halifax",
		Portal:       "bids",
		Categories:   []string{"Services"},
		SourceURL:    "https://example.test/a",
	})
	rich := scored(s, model.NormalizedRecord{
		Title:        "Coaching Services",
		Organization: "Halifax",
		Portal:       "bids",
		Description:  "executive coaching and leadership training",
		Value:        ptr(80_000.0),
		ClosingAt:    &closing,
		Categories:   []string{"services", "Training"},
		ContactEmail: "buyer@halifax.test",
	})

	out := d.Run([]model.ScoredRecord{sparse, rich})

	require.Len(t, out, 1)
	got := out[0]
	assert.Equal(t, "Coaching Services", got.Title, "the higher-scored member leads")
	assert.Equal(t, "executive coaching and leadership training", got.Description)
	assert.Equal(t, 80_000.0, *got.Value)
	assert.Equal(t, "buyer@halifax.test", got.ContactEmail)
	assert.Equal(t, "https://example.test/a", got.SourceURL, "gaps are filled from lower-ranked members")
	assert.Equal(t, []string{"services", "Training"}, got.Categories)
}

func TestRun_ConflictPrefersHigherScore(t *testing.T) {
	d, s := newDedup()
	low := scored(s, model.NormalizedRecord{Title: "Workshop", Organization: "Org", Portal: "p", Location: "Regina"})
	high := scored(s, model.NormalizedRecord{Title: "Workshop", Organization: "Org", Portal: "p", Location: "Saskatoon", Description: "training"})
	require.Greater(t, high.Score, low.Score)

	out := d.Run([]model.ScoredRecord{low, high})

	require.Len(t, out, 1)
	assert.Equal(t, "Saskatoon", out[0].Location)
}

func TestRun_NormalizedSiblingKeepsRealLocationAndURL(t *testing.T) {
	d, s := newDedup()
	portal := model.PortalDescriptor{Name: "City of Ottawa", BaseURL: "https://ottawa.example/", Region: "Ontario"}
	normalized := func(raw extractor.RawRecord) model.ScoredRecord {
		t.Helper()
		rec, err := normalize.Normalize(portal, raw)
		require.NoError(t, err)
		return s.Score(rec)
	}
	// Found by the "training" strategy with a richer description only.
	byTerm := normalized(extractor.RawRecord{Title: "Supervisor Workshop", Organization: "Ottawa", Description: "staff training"})
	// Found by the unfiltered listing with the detail page link and place.
	unfiltered := normalized(extractor.RawRecord{Title: "Supervisor workshop", Organization: "Ottawa", Location: "Kanata, ON", SourceURL: "Tender/Detail/4f1c"})
	require.Greater(t, byTerm.Score, unfiltered.Score)

	out := d.Run([]model.ScoredRecord{byTerm, unfiltered})

	require.Len(t, out, 1)
	assert.Equal(t, "Kanata, ON", out[0].Location)
	assert.Equal(t, "https://ottawa.example/Tender/Detail/4f1c", out[0].SourceURL)
	assert.Equal(t, "staff training", out[0].Description)
	assert.Equal(t, "City of Ottawa", out[0].Source)
}

func TestRun_ConflictTieBreaksOnEarliestPosting(t *testing.T) {
	d, s := newDedup()
	later := scored(s, model.NormalizedRecord{Title: "Workshop", Organization: "Org", Portal: "p", Location: "Later", PostedAt: now.Add(-24 * time.Hour)})
	undated := scored(s, model.NormalizedRecord{Title: "Workshop", Organization: "Org", Portal: "p", Location: "Undated"})
	earlier := scored(s, model.NormalizedRecord{Title: "Workshop", Organization: "Org", Portal: "p", Location: "Earlier", PostedAt: now.Add(-72 * time.Hour)})

	out := d.Run([]model.ScoredRecord{undated, later, earlier})

	require.Len(t, out, 1)
	assert.Equal(t, "Earlier", out[0].Location)
	assert.Equal(t, now.Add(-72*time.Hour), out[0].PostedAt)
}

func TestRun_RescoresMergedRecord(t *testing.T) {
	d, s := newDedup()
	a := scored(s, model.NormalizedRecord{Title: "Services", Organization: "Org", Portal: "p", Description: "staff training"})
	b := scored(s, model.NormalizedRecord{Title: "Services", Organization: "Org", Portal: "p", Keywords: []string{"coaching"}})
	require.Equal(t, 15.0, a.Score)
	require.Equal(t, 12.0, b.Score)

	out := d.Run([]model.ScoredRecord{a, b})

	require.Len(t, out, 1)
	assert.Equal(t, 27.0, out[0].Score)
	assert.Equal(t, model.TierMedium, out[0].Tier)
	assert.Equal(t, []string{"Executive Coaching"}, out[0].MatchedCourses)
}

func TestRun_Idempotent(t *testing.T) {
	d, s := newDedup()
	in := []model.ScoredRecord{
		scored(s, model.NormalizedRecord{Title: "A training", Organization: "X", Portal: "p", Keywords: []string{"b", "a"}}),
		scored(s, model.NormalizedRecord{Title: "A Training", Organization: "x", Portal: "P", Description: "workshop", Value: ptr(60_000.0)}),
		scored(s, model.NormalizedRecord{Title: "Coaching", Organization: "Y", Portal: "p", Categories: []string{"HR", "hr"}}),
		scored(s, model.NormalizedRecord{Title: "Paving", Organization: "Z", Portal: "q"}),
	}

	once := d.Run(in)
	twice := d.Run(once)

	assert.Equal(t, once, twice)
}

func TestRun_OrderedByScoreThenFingerprint(t *testing.T) {
	d, s := newDedup()
	in := []model.ScoredRecord{
		scored(s, model.NormalizedRecord{Title: "Zeta coaching", Organization: "O", Portal: "p"}),
		scored(s, model.NormalizedRecord{Title: "Alpha coaching", Organization: "O", Portal: "p"}),
		scored(s, model.NormalizedRecord{Title: "Professional development", Organization: "O", Portal: "p"}),
	}

	out := d.Run(in)

	require.Len(t, out, 3)
	assert.Equal(t, "Professional development", out[0].Title)
	assert.Equal(t, "Alpha coaching", out[1].Title)
	assert.Equal(t, "Zeta coaching", out[2].Title)
}

func TestRun_Empty(t *testing.T) {
	d, _ := newDedup()
	assert.Empty(t, d.Run(nil))
}

// Package dedup collapses records describing the same tender into one.
package dedup

import (
	"sort"

	"tenderscan/scanner-service/internal/model"
)

// Scorer re-scores a merged record.
type Scorer interface {
	Score(r model.NormalizedRecord) model.ScoredRecord
}

// Deduplicator merges every group of records sharing a fingerprint.
type Deduplicator struct {
	scorer Scorer
}

func New(scorer Scorer) *Deduplicator {
	return &Deduplicator{scorer: scorer}
}

type member struct {
	rec   model.ScoredRecord
	order int
}

// Run returns exactly one record per fingerprint, ordered by score
// descending then fingerprint. Running it on its own output changes nothing.
func (d *Deduplicator) Run(records []model.ScoredRecord) []model.ScoredRecord {
	groups := make(map[string][]member, len(records))
	keys := make([]string, 0, len(records))
	for i, r := range records {
		fp := model.Fingerprint(r.NormalizedRecord)
		if _, ok := groups[fp]; !ok {
			keys = append(keys, fp)
		}
		groups[fp] = append(groups[fp], member{rec: r, order: i})
	}

	type keyed struct {
		fp  string
		rec model.ScoredRecord
	}
	merged := make([]keyed, 0, len(keys))
	for _, fp := range keys {
		merged = append(merged, keyed{fp: fp, rec: d.scorer.Score(merge(groups[fp]))})
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].rec.Score != merged[j].rec.Score {
			return merged[i].rec.Score > merged[j].rec.Score
		}
		return merged[i].fp < merged[j].fp
	})

	out := make([]model.ScoredRecord, len(merged))
	for i, k := range merged {
		out[i] = k.rec
	}
	return out
}

// merge builds one record from a group, field by field. Members are ranked
// by score, then earliest posting date, then arrival; the first non-empty
// value of each field wins. Set fields take the union of all members.
func merge(group []member) model.NormalizedRecord {
	sort.SliceStable(group, func(i, j int) bool {
		a, b := group[i], group[j]
		if a.rec.Score != b.rec.Score {
			return a.rec.Score > b.rec.Score
		}
		if !a.rec.PostedAt.Equal(b.rec.PostedAt) {
			switch {
			case a.rec.PostedAt.IsZero():
				return false
			case b.rec.PostedAt.IsZero():
				return true
			}
			return a.rec.PostedAt.Before(b.rec.PostedAt)
		}
		return a.order < b.order
	})

	m := group[0].rec.NormalizedRecord
	var categories, keywords []string
	for _, g := range group {
		r := g.rec.NormalizedRecord
		firstString(&m.ExternalID, r.ExternalID)
		firstString(&m.Organization, r.Organization)
		firstString(&m.Description, r.Description)
		firstString(&m.Location, r.Location)
		firstString(&m.ContactEmail, r.ContactEmail)
		firstString(&m.ContactPhone, r.ContactPhone)
		firstString(&m.SourceURL, r.SourceURL)
		firstString(&m.DocumentsURL, r.DocumentsURL)
		firstString(&m.Source, r.Source)
		if m.Value == nil && r.Value != nil {
			m.Value = r.Value
		}
		if m.ClosingAt == nil && r.ClosingAt != nil {
			m.ClosingAt = r.ClosingAt
		}
		if m.PostedAt.IsZero() {
			m.PostedAt = r.PostedAt
		}
		categories = append(categories, r.Categories...)
		keywords = append(keywords, r.Keywords...)
	}
	m.Categories = model.NormalizeSet(categories)
	m.Keywords = model.NormalizeSet(keywords)
	return m
}

func firstString(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}

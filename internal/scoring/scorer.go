// Package scoring assigns each tender a relevance score, a priority tier
// and the list of catalog courses it could be served by.
package scoring

import (
	"sort"
	"strings"
	"time"
	"unicode"

	ahocorasick "github.com/cloudflare/ahocorasick"

	"tenderscan/scanner-service/internal/model"
	"tenderscan/scanner-service/internal/textnorm"
)

const day = 24 * time.Hour

// Scorer is a pure function of its Config, the reference time it was built
// with, and the record it is given. It is safe for concurrent use.
type Scorer struct {
	cfg Config
	now time.Time

	keywords  []string
	weights   []float64 // signed, parallel to keywords
	kwMatcher *ahocorasick.Matcher

	triggers      []string // token-padded, parallel to triggerCourse
	triggerCourse []int
	courseMatcher *ahocorasick.Matcher

	portalBonus map[string]float64
}

// New builds a Scorer. now is the reference time for deadline urgency and
// stays fixed for the Scorer's lifetime so repeated calls agree.
func New(cfg Config, now time.Time) *Scorer {
	s := &Scorer{cfg: cfg, now: now, portalBonus: make(map[string]float64, len(cfg.PortalBonus))}

	signed := make(map[string]float64, len(cfg.Positive)+len(cfg.Negative))
	for k, w := range cfg.Positive {
		signed[textnorm.Fold(k)] += w
	}
	for k, w := range cfg.Negative {
		signed[textnorm.Fold(k)] -= w
	}
	for k, w := range signed {
		if k == "" || w == 0 {
			continue
		}
		s.keywords = append(s.keywords, k)
	}
	sort.Strings(s.keywords)
	s.weights = make([]float64, len(s.keywords))
	for i, k := range s.keywords {
		s.weights[i] = signed[k]
	}
	if len(s.keywords) > 0 {
		s.kwMatcher = ahocorasick.NewStringMatcher(s.keywords)
	}

	seen := make(map[string]bool)
	for ci, c := range cfg.Courses {
		for _, t := range c.Triggers {
			padded := tokenize(textnorm.Fold(t))
			if padded == " " {
				continue
			}
			key := padded + "\x00" + c.Name
			if seen[key] {
				continue
			}
			seen[key] = true
			s.triggers = append(s.triggers, padded)
			s.triggerCourse = append(s.triggerCourse, ci)
		}
	}
	if len(s.triggers) > 0 {
		s.courseMatcher = ahocorasick.NewStringMatcher(s.triggers)
	}

	for k, v := range cfg.PortalBonus {
		s.portalBonus[textnorm.Fold(k)] = v
	}
	return s
}

// Now returns the reference time the scorer was built with.
func (s *Scorer) Now() time.Time { return s.now }

// Thresholds returns the tier thresholds in use.
func (s *Scorer) Thresholds() Thresholds { return s.cfg.Thresholds }

// Score evaluates r. Each keyword counts once however often it appears.
func (s *Scorer) Score(r model.NormalizedRecord) model.ScoredRecord {
	text := textnorm.Fold(r.Text())

	var score float64
	for _, i := range hits(s.kwMatcher, text) {
		score += s.weights[i]
	}

	band := s.cfg.ValueBand
	if r.Value != nil && band.Bonus != 0 && *r.Value >= band.Min && *r.Value <= band.Max {
		score += band.Bonus
	}

	expired := false
	if r.ClosingAt != nil {
		until := r.ClosingAt.Sub(s.now)
		if until < 0 {
			expired = true
		} else {
			days := int(until / day)
			u := s.cfg.Urgency
			if days >= u.MinDays && days <= u.MaxDays {
				score += u.Bonus
			}
		}
	}

	score += s.bonus(r)

	return model.ScoredRecord{
		NormalizedRecord: r,
		Score:            score,
		Tier:             s.cfg.Thresholds.Tier(score),
		MatchedCourses:   s.matchCourses(text),
		Expired:          expired,
	}
}

// matchCourses returns matched course names in catalog order.
func (s *Scorer) matchCourses(folded string) []string {
	idx := hits(s.courseMatcher, tokenize(folded))
	if len(idx) == 0 {
		return nil
	}
	matched := make(map[int]bool, len(idx))
	for _, i := range idx {
		matched[s.triggerCourse[i]] = true
	}
	out := make([]string, 0, len(matched))
	for ci, c := range s.cfg.Courses {
		if matched[ci] {
			out = append(out, c.Name)
		}
	}
	return out
}

// hits returns the distinct dictionary indexes found in text.
func hits(m *ahocorasick.Matcher, text string) []int {
	if m == nil || text == "" {
		return nil
	}
	found := m.MatchThreadSafe([]byte(text))
	if len(found) < 2 {
		return found
	}
	sort.Ints(found)
	out := found[:1]
	for _, i := range found[1:] {
		if i != out[len(out)-1] {
			out = append(out, i)
		}
	}
	return out
}

// tokenize reduces s to space-separated letter/digit runs padded with a
// space on both sides, so a padded trigger only matches whole words.
func tokenize(s string) string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return " " + strings.Join(fields, " ") + " "
}

// bonus prefers the scanning portal's entry, so a descriptor's priority
// still applies to notices republished from another platform.
func (s *Scorer) bonus(r model.NormalizedRecord) float64 {
	if r.Source != "" {
		if b, ok := s.portalBonus[textnorm.Fold(r.Source)]; ok {
			return b
		}
	}
	return s.portalBonus[textnorm.Fold(r.Portal)]
}

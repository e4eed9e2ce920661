// Package model defines shared data structures for the scanner service.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// NormalizedRecord is the canonical tender shape every extractor's output is
// reduced to. It is the contract with the persistence and UI layers.
// Title and Portal are always non-empty.
type NormalizedRecord struct {
	ExternalID   string     `json:"externalId,omitempty"` // portal-scoped, may be empty
	Title        string     `json:"title"`
	Organization string     `json:"organization"`
	Portal       string     `json:"portal"`
	Value        *float64   `json:"value,omitempty"` // CAD
	PostedAt     time.Time  `json:"postedAt"`
	ClosingAt    *time.Time `json:"closingAt,omitempty"`
	Description  string     `json:"description"`
	Location     string     `json:"location"`
	Categories   []string   `json:"categories"`
	Keywords     []string   `json:"keywords"`
	ContactEmail string     `json:"contactEmail,omitempty"`
	ContactPhone string     `json:"contactPhone,omitempty"`
	SourceURL    string     `json:"sourceUrl"`
	DocumentsURL string     `json:"documentsUrl,omitempty"`

	// Source is the catalog portal that scanned the record. It differs from
	// Portal when a listing republishes another platform's notice.
	Source string `json:"source,omitempty"`
}

// ContentHash returns a stable digest of the record's content, used by the
// sink to skip rewriting unchanged tenders.
func (r NormalizedRecord) ContentHash() string {
	r.Source = ""
	b, _ := json.Marshal(r)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Text returns the combined text scoring runs against:
// title + description + categories + keywords.
func (r NormalizedRecord) Text() string {
	parts := make([]string, 0, 2+len(r.Categories)+len(r.Keywords))
	parts = append(parts, r.Title, r.Description)
	parts = append(parts, r.Categories...)
	parts = append(parts, r.Keywords...)
	return strings.Join(parts, " ")
}

// ScoredRecord is a NormalizedRecord with its relevance assessment attached.
type ScoredRecord struct {
	NormalizedRecord
	Score          float64  `json:"score"`
	Tier           Tier     `json:"tier"`
	MatchedCourses []string `json:"matchedCourses"`
	// Expired is set when the closing date has already passed. Such records
	// never earn an urgency bonus and are stored inactive.
	Expired bool `json:"expired,omitempty"`
}

// Credentials are supplied to extractors that need to log in. They are read
// from the environment, never from the portal catalog file.
type Credentials struct {
	Username string
	Password string
}

// Empty reports whether no credentials were configured.
func (c Credentials) Empty() bool { return c.Username == "" && c.Password == "" }

// PortalDescriptor is the static configuration of one portal. The set is
// loaded once and never mutated during a scan.
type PortalDescriptor struct {
	Name string // unique key
	Kind string // extractor family, e.g. "bidsandtenders"

	BaseURL   string
	SearchURL string
	Region    string

	// Strategies are the search terms submitted to the portal. An empty set
	// means single listing mode.
	Strategies []string
	// UnfilteredListing reports whether the portal can list everything with
	// no search term.
	UnfilteredListing bool

	MaxPages      int
	PageSize      int
	PriorityBonus float64
	Enabled       bool
	Credentials   Credentials
}

// EffectiveStrategies returns the ordered list of terms to run: the
// unfiltered strategy first when supported, then each configured term once.
func (p PortalDescriptor) EffectiveStrategies() []string {
	if len(p.Strategies) == 0 {
		return []string{""}
	}

	seen := make(map[string]bool, len(p.Strategies)+1)
	out := make([]string, 0, len(p.Strategies)+1)
	if p.UnfilteredListing {
		out = append(out, "")
		seen[""] = true
	}
	for _, s := range p.Strategies {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if seen[key] {
			continue
		}
		if s == "" && !p.UnfilteredListing {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return []string{""}
	}
	return out
}

// NormalizeSet returns values trimmed, de-duplicated case-insensitively and
// sorted, so that equal sets compare equal.
func NormalizeSet(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.Join(strings.Fields(v), " ")
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	if len(out) == 0 {
		return nil
	}
	return out
}

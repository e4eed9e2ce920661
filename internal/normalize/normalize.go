// Package normalize reduces heterogeneous raw records into the canonical
// NormalizedRecord shape.
package normalize

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"tenderscan/scanner-service/internal/extractor"
	"tenderscan/scanner-service/internal/model"
	"tenderscan/scanner-service/internal/textnorm"
)

// Words worth keeping as keywords when a portal supplies none.
var relevantWords = []string{
	"training", "development", "consulting", "implementation",
	"management", "leadership", "technology", "digital",
	"transformation", "change", "process", "system",
	"formation", "coaching", "certification", "learning",
}

const maxExtractedKeywords = 10

var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phoneRe = regexp.MustCompile(`\(?\b\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}\b`)
)

// Normalize converts raw into a NormalizedRecord for the given portal.
// A record without a usable title yields *extractor.MalformedRecordError.
func Normalize(portal model.PortalDescriptor, raw extractor.RawRecord) (model.NormalizedRecord, error) {
	title := textnorm.CollapseSpace(raw.Title)
	if !hasWordChar(title) {
		return model.NormalizedRecord{}, &extractor.MalformedRecordError{Portal: portal.Name, Reason: "missing title"}
	}

	portalName := textnorm.CollapseSpace(raw.Portal)
	if portalName == "" {
		portalName = portal.Name
	}
	if portalName == "" {
		return model.NormalizedRecord{}, &extractor.MalformedRecordError{Portal: portal.Name, Reason: "missing portal"}
	}

	org := textnorm.CollapseSpace(raw.Organization)
	if org == "" {
		org = portalName
	}

	desc := textnorm.CollapseSpace(raw.Description)

	rec := model.NormalizedRecord{
		Title:        title,
		Organization: org,
		Portal:       portalName,
		Value:        ParseValue(raw.ValueText),
		Description:  desc,
		Location:     textnorm.CollapseSpace(raw.Location),
		Categories:   model.NormalizeSet(raw.Categories),
		Keywords:     model.NormalizeSet(raw.Keywords),
		ContactEmail: strings.ToLower(strings.TrimSpace(raw.ContactEmail)),
		ContactPhone: textnorm.CollapseSpace(raw.ContactPhone),
		SourceURL:    resolveURL(portal.BaseURL, raw.SourceURL),
		DocumentsURL: resolveURL(portal.BaseURL, raw.DocumentsURL),
		Source:       portal.Name,
	}

	if t, ok := ParseDate(raw.PostedText); ok {
		rec.PostedAt = t
	}
	if t, ok := ParseDate(raw.ClosingText); ok {
		rec.ClosingAt = &t
	}
	if len(rec.Keywords) == 0 {
		rec.Keywords = ExtractKeywords(title + " " + desc)
	}
	if rec.ContactEmail == "" {
		rec.ContactEmail = strings.ToLower(emailRe.FindString(desc))
	}
	if rec.ContactPhone == "" {
		rec.ContactPhone = phoneRe.FindString(desc)
	}

	rec.ExternalID = strings.TrimSpace(raw.ExternalID)
	if rec.ExternalID == "" {
		rec.ExternalID = ExtractTenderID(raw.SourceURL, title)
	}

	return rec, nil
}

// Fallback fills the fields a listing left empty with the portal's own
// region and address. It runs after deduplication so that a sibling's real
// value always beats the portal default.
func Fallback(portal model.PortalDescriptor, rec *model.NormalizedRecord) {
	if rec.Location == "" {
		rec.Location = portal.Region
	}
	if rec.SourceURL == "" {
		rec.SourceURL = portal.BaseURL
	}
}

// ExtractKeywords returns the relevant words present in text, in list order.
func ExtractKeywords(text string) []string {
	folded := textnorm.Fold(text)
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words[w] = true
	}

	var out []string
	for _, w := range relevantWords {
		if words[w] {
			out = append(out, w)
			if len(out) == maxExtractedKeywords {
				break
			}
		}
	}
	return model.NormalizeSet(out)
}

func resolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if u.IsAbs() || base == "" {
		return u.String()
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return b.ResolveReference(u).String()
}

func hasWordChar(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Layouts seen across Canadian portals. Day-first numeric dates are tried
// before month-first ones.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/1/2",
	"2/1/2006",
	"1/2/2006",
	"2-1-2006",
	"2-Jan-2006",
	"2 Jan 2006",
	"2 Jan 2006 3:04 PM",
	"2 January 2006",
	"Jan 2, 2006",
	"Jan 2, 2006 3:04 PM",
	"January 2, 2006",
	"Mon, Jan 2, 2006",
	"Monday, January 2, 2006",
}

// ParseDate parses s with the first matching layout. Times without a zone
// are taken as UTC.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	s = strings.Join(strings.Fields(s), " ")
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

var valueRe = regexp.MustCompile(`(?i)(\d[\d,]*(?:\.\d+)?)\s*(k|m|mm|b|thousand|million|billion)?\b`)

// ParseValue reads a monetary amount such as "$1,250,000.00", "CAD 75K" or
// "1.5M". It returns nil when no positive amount is present.
func ParseValue(s string) *float64 {
	m := valueRe.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil || v <= 0 {
		return nil
	}
	switch strings.ToLower(m[2]) {
	case "k", "thousand":
		v *= 1_000
	case "m", "mm", "million":
		v *= 1_000_000
	case "b", "billion":
		v *= 1_000_000_000
	}
	return &v
}

var (
	urlIDRe   = regexp.MustCompile(`/(\d{3,})(?:[/?#]|$)`)
	titleIDRe = regexp.MustCompile(`(?i)(?:#|\b(?:tender|bid|rfp|rfq|rfsq|solicitation)\s*(?:no\.?|number|#)?\s*)([A-Z0-9\-]*\d[A-Z0-9\-]*)`)
)

// ExtractTenderID finds a portal identifier in a detail URL or, failing
// that, in the title. It returns "" when neither carries one.
func ExtractTenderID(rawURL, title string) string {
	if m := urlIDRe.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	if m := titleIDRe.FindStringSubmatch(title); m != nil && len(m[1]) >= 3 {
		return strings.ToUpper(m[1])
	}
	return ""
}

package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"tenderscan/scanner-service/internal/extractor/builtin"
	"tenderscan/scanner-service/internal/model"
)

type portalFile struct {
	Portals []portalEntry `yaml:"portals"`
}

type portalEntry struct {
	Name              string   `yaml:"name"`
	Kind              string   `yaml:"kind"`
	BaseURL           string   `yaml:"base_url"`
	SearchURL         string   `yaml:"search_url"`
	Region            string   `yaml:"region"`
	Strategies        []string `yaml:"strategies"`
	UnfilteredListing *bool    `yaml:"unfiltered_listing"`
	MaxPages          int      `yaml:"max_pages"`
	PageSize          int      `yaml:"page_size"`
	PriorityBonus     float64  `yaml:"priority_bonus"`
	Enabled           *bool    `yaml:"enabled"`
}

// LoadPortals reads the portal catalog at path.
func LoadPortals(path string, defaultMaxPages int) ([]model.PortalDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read portal catalog: %w", err)
	}
	portals, err := ParsePortals(data, defaultMaxPages)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return portals, nil
}

// ParsePortals decodes and validates a catalog. Names must be unique
// ignoring case and every kind must have an extractor. Credentials are read
// from PORTAL_<NAME>_USERNAME and PORTAL_<NAME>_PASSWORD.
func ParsePortals(data []byte, defaultMaxPages int) ([]model.PortalDescriptor, error) {
	var f portalFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse portal catalog: %w", err)
	}

	kinds := builtin.Kinds()
	seen := make(map[string]bool, len(f.Portals))
	out := make([]model.PortalDescriptor, 0, len(f.Portals))
	var errs []error
	for i, e := range f.Portals {
		name := strings.TrimSpace(e.Name)
		switch {
		case name == "":
			errs = append(errs, fmt.Errorf("portal #%d: name is required", i+1))
			continue
		case seen[strings.ToLower(name)]:
			errs = append(errs, fmt.Errorf("portal %q: duplicate name", name))
			continue
		case !slices.Contains(kinds, e.Kind):
			errs = append(errs, fmt.Errorf("portal %q: unknown kind %q (known: %s)", name, e.Kind, strings.Join(kinds, ", ")))
			continue
		case e.MaxPages < 0:
			errs = append(errs, fmt.Errorf("portal %q: max_pages must not be negative", name))
			continue
		}
		seen[strings.ToLower(name)] = true

		d := model.PortalDescriptor{
			Name:              name,
			Kind:              e.Kind,
			BaseURL:           e.BaseURL,
			SearchURL:         e.SearchURL,
			Region:            e.Region,
			Strategies:        e.Strategies,
			UnfilteredListing: e.UnfilteredListing == nil || *e.UnfilteredListing,
			MaxPages:          e.MaxPages,
			PageSize:          e.PageSize,
			PriorityBonus:     e.PriorityBonus,
			Enabled:           e.Enabled == nil || *e.Enabled,
			Credentials: model.Credentials{
				Username: os.Getenv(CredentialEnv(name, "USERNAME")),
				Password: os.Getenv(CredentialEnv(name, "PASSWORD")),
			},
		}
		if d.MaxPages == 0 {
			d.MaxPages = defaultMaxPages
		}
		out = append(out, d)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// CredentialEnv names the variable holding a portal credential, e.g.
// "City of Ottawa" → PORTAL_CITY_OF_OTTAWA_PASSWORD.
func CredentialEnv(portal, field string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToUpper(portal) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			lastUnderscore = false
		} else if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return "PORTAL_" + strings.TrimSuffix(b.String(), "_") + "_" + field
}

// SelectPortals narrows the catalog to the named portals, ignoring case.
// No names selects everything; an unknown name is an error.
func SelectPortals(portals []model.PortalDescriptor, names []string) ([]model.PortalDescriptor, error) {
	if len(names) == 0 {
		return portals, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.ToLower(strings.TrimSpace(n))] = true
	}
	var out []model.PortalDescriptor
	for _, p := range portals {
		key := strings.ToLower(p.Name)
		if want[key] {
			out = append(out, p)
			delete(want, key)
		}
	}
	if len(want) > 0 {
		return nil, fmt.Errorf("unknown portals: %s", strings.Join(sortedKeys(want), ", "))
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

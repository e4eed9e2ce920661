// Package extractor defines the capability every portal-specific scraper
// implements, and the registry that selects one per portal.
package extractor

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"

	"tenderscan/scanner-service/internal/model"
	"tenderscan/scanner-service/internal/session"
)

// PageRequest asks for one page of results. Pages are 1-based; an empty Term
// means no filter.
type PageRequest struct {
	Term string
	Page int
}

// Page is one fetched page. No results is a valid Page with no records and
// HasMore false, never an error.
type Page struct {
	Records []RawRecord
	HasMore bool
}

// RawRecord is a record as scraped, before normalization. Values are kept as
// the text the portal showed.
type RawRecord struct {
	ExternalID   string
	Title        string
	Organization string
	Portal       string // platform name when it differs from the descriptor
	ValueText    string
	PostedText   string
	ClosingText  string
	Description  string
	Location     string
	Categories   []string
	Keywords     []string
	ContactEmail string
	ContactPhone string
	SourceURL    string
	DocumentsURL string
}

// Extractor fetches and parses one portal.
//
// FetchPage must return a *TransientError for failures worth retrying
// (timeouts, refused connections, malformed responses) and a
// *PermanentError when the portal cannot be scanned this run (authentication
// rejected, markup no longer recognised).
type Extractor interface {
	Name() string
	FetchPage(ctx context.Context, sess session.Session, req PageRequest) (Page, error)
}

// SessionRequirer is implemented by extractors that need their own stateful
// session instead of the shared client.
type SessionRequirer interface {
	RequiresSession() bool
}

// NeedsSession reports whether ex asked for a dedicated session.
func NeedsSession(ex Extractor) bool {
	r, ok := ex.(SessionRequirer)
	return ok && r.RequiresSession()
}

// Deps are the collaborators handed to every factory.
type Deps struct {
	Client *http.Client
	Logger *zap.Logger
}

// Factory builds the extractor for one portal of a given kind.
type Factory func(desc model.PortalDescriptor, deps Deps) (Extractor, error)

// Registry maps portal names to extractors. It is built once and read-only
// afterwards, so concurrent lookups need no locking.
type Registry struct {
	byPortal map[string]Extractor
}

// NewRegistry builds an extractor for every descriptor using the factory
// registered for its kind.
func NewRegistry(portals []model.PortalDescriptor, factories map[string]Factory, deps Deps) (*Registry, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Client == nil {
		deps.Client = http.DefaultClient
	}

	r := &Registry{byPortal: make(map[string]Extractor, len(portals))}
	for _, p := range portals {
		key := registryKey(p.Name)
		if _, dup := r.byPortal[key]; dup {
			return nil, fmt.Errorf("duplicate portal %q", p.Name)
		}
		factory, ok := factories[p.Kind]
		if !ok {
			return nil, fmt.Errorf("portal %q: unknown extractor kind %q", p.Name, p.Kind)
		}
		ex, err := factory(p, deps)
		if err != nil {
			return nil, fmt.Errorf("portal %q: %w", p.Name, err)
		}
		r.byPortal[key] = ex
	}
	return r, nil
}

// RegistryOf wraps already-built extractors, keyed by their Name.
func RegistryOf(extractors ...Extractor) *Registry {
	r := &Registry{byPortal: make(map[string]Extractor, len(extractors))}
	for _, ex := range extractors {
		r.byPortal[registryKey(ex.Name())] = ex
	}
	return r
}

// Lookup returns the extractor for a portal name.
func (r *Registry) Lookup(portal string) (Extractor, bool) {
	ex, ok := r.byPortal[registryKey(portal)]
	return ex, ok
}

// Names lists registered portals in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byPortal))
	for _, ex := range r.byPortal {
		names = append(names, ex.Name())
	}
	sort.Strings(names)
	return names
}

func registryKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

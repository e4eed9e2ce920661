// Package canadabuys reads the federal open-data tender notice CSV.
//
// The feed is one file with no server-side search or paging. It is
// downloaded once per listing, sliced into pages of PageSize rows, and
// search terms are applied locally against title and description.
package canadabuys

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tenderscan/scanner-service/internal/extractor"
	"tenderscan/scanner-service/internal/model"
	"tenderscan/scanner-service/internal/session"
)

// Kind is the portal catalog key for this extractor.
const Kind = "canadabuys"

const (
	DefaultFeedURL = "https://canadabuys.canada.ca/opendata/pub/openTenderNotice-ouvertAvisAppelOffres.csv"
	defaultBaseURL = "https://canadabuys.canada.ca"
	feedTTL        = 15 * time.Minute
	maxFeedBytes   = 256 << 20
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Feed columns.
const (
	colID          = "solicitationNumber-numeroSollicitation"
	colTitle       = "title-titre-eng"
	colOrg         = "contractingEntityName-nomEntitContractante-eng"
	colClosing     = "tenderClosingDate-appelOffresDateCloture"
	colPublished   = "publicationDate-datePublication"
	colDescription = "tenderDescription-descriptionAppelOffres-eng"
	colRegions     = "regionsOfDelivery-regionsLivraison-eng"
	colCategory    = "procurementCategory-categorieApprovisionnement"
	colValue       = "contractValue-valeurContrat"
	colNoticeURL   = "noticeURL-URLavis-eng"
	colEmail       = "contactInfoEmail-informationsContactCourriel"
	colPhone       = "contactInfoPhone-contactInfoTelephone"
)

// Extractor serves pages out of the downloaded feed.
type Extractor struct {
	name     string
	feedURL  string
	baseURL  string
	pageSize int
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	rows      []extractor.RawRecord
	fetchedAt time.Time
}

// New builds the extractor. SearchURL overrides the feed location.
func New(desc model.PortalDescriptor, deps extractor.Deps) (extractor.Extractor, error) {
	feed := desc.SearchURL
	if feed == "" {
		feed = DefaultFeedURL
	}
	base := strings.TrimRight(desc.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		name:     desc.Name,
		feedURL:  feed,
		baseURL:  base,
		pageSize: desc.PageSize,
		logger:   logger.Named("extractor.canadabuys").With(zap.String("portal", desc.Name)),
		now:      time.Now,
	}, nil
}

func (e *Extractor) Name() string { return e.name }

// FetchPage returns rows matching req.Term, page by page. A PageSize of zero
// or less returns the whole feed as one page.
func (e *Extractor) FetchPage(ctx context.Context, sess session.Session, req extractor.PageRequest) (extractor.Page, error) {
	rows, err := e.feed(ctx, sess, req.Page == 1)
	if err != nil {
		return extractor.Page{}, err
	}

	matched := filter(rows, req.Term)
	if e.pageSize <= 0 {
		if req.Page > 1 {
			return extractor.Page{}, nil
		}
		return extractor.Page{Records: matched}, nil
	}

	start := (req.Page - 1) * e.pageSize
	if start >= len(matched) {
		return extractor.Page{}, nil
	}
	end := min(start+e.pageSize, len(matched))
	return extractor.Page{Records: matched[start:end], HasMore: end < len(matched)}, nil
}

// feed returns the cached rows, downloading them when stale. A first page
// request refreshes a cache older than feedTTL.
func (e *Extractor) feed(ctx context.Context, sess session.Session, firstPage bool) ([]extractor.RawRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fresh := e.rows != nil && e.now().Sub(e.fetchedAt) < feedTTL
	if fresh || (!firstPage && e.rows != nil) {
		return e.rows, nil
	}

	rows, err := e.download(ctx, sess)
	if err != nil {
		return nil, err
	}
	e.rows, e.fetchedAt = rows, e.now()
	e.logger.Info("feed downloaded", zap.Int("rows", len(rows)))
	return rows, nil
}

func (e *Extractor) download(ctx context.Context, sess session.Session) ([]extractor.RawRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.feedURL, nil)
	if err != nil {
		return nil, extractor.Permanent(e.name, err)
	}
	req.Header.Set("Accept", "text/csv")

	resp, err := sess.Client().Do(req)
	if err != nil {
		return nil, extractor.ClassifyTransport(ctx, e.name, fmt.Errorf("http GET: %w", err))
	}
	defer resp.Body.Close()

	if err := extractor.ClassifyStatus(e.name, resp.StatusCode); err != nil {
		return nil, err
	}
	return e.parse(io.LimitReader(resp.Body, maxFeedBytes))
}

func (e *Extractor) parse(r io.Reader) ([]extractor.RawRecord, error) {
	br := bufio.NewReader(r)
	if bom, _ := br.Peek(3); bytes.Equal(bom, utf8BOM) {
		_, _ = br.Discard(3)
	}
	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return []extractor.RawRecord{}, nil
	}
	if err != nil {
		return nil, extractor.Transient(e.name, fmt.Errorf("read csv header: %w", err))
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	if _, ok := idx[colTitle]; !ok {
		return nil, extractor.Permanent(e.name, fmt.Errorf("%w: column %q missing", extractor.ErrStructureChanged, colTitle))
	}

	get := func(row []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	rows := []extractor.RawRecord{}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, extractor.Transient(e.name, fmt.Errorf("read csv: %w", err))
		}

		id := get(row, colID)
		src := get(row, colNoticeURL)
		if src == "" && id != "" {
			src = e.baseURL + "/en/tender-opportunities/" + id
		}
		rows = append(rows, extractor.RawRecord{
			ExternalID:   id,
			Title:        get(row, colTitle),
			Organization: get(row, colOrg),
			ValueText:    get(row, colValue),
			PostedText:   get(row, colPublished),
			ClosingText:  get(row, colClosing),
			Description:  get(row, colDescription),
			Location:     firstLine(get(row, colRegions)),
			Categories:   splitList(get(row, colCategory)),
			ContactEmail: get(row, colEmail),
			ContactPhone: get(row, colPhone),
			SourceURL:    src,
		})
	}
	return rows, nil
}

func filter(rows []extractor.RawRecord, term string) []extractor.RawRecord {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return rows
	}
	var out []extractor.RawRecord
	for _, r := range rows {
		if strings.Contains(strings.ToLower(r.Title+" "+r.Description), term) {
			out = append(out, r)
		}
	}
	return out
}

// splitList splits multi-valued cells ("*SRV, *GD" or one value per line).
func splitList(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' || r == ';' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(p), "*"))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstLine(s string) string {
	if i := strings.IndexAny(s, "\n,"); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

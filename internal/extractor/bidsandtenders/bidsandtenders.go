// Package bidsandtenders scrapes the HTML tender listings of municipalities
// hosted on the bids&tenders platform.
package bidsandtenders

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"tenderscan/scanner-service/internal/extractor"
	"tenderscan/scanner-service/internal/model"
	"tenderscan/scanner-service/internal/session"
)

// Kind is the portal catalog key for this extractor.
const Kind = "bidsandtenders"

const maxPageBytes = 16 << 20

// containerSelectors locate the results block. A page without one is not a
// listing this extractor understands.
const containerSelectors = "#tenderResults, .tender-results, .search-results"

// rowSelectors are tried in order; the first that matches anything wins.
var rowSelectors = []string{
	`tr[class*="tender"]`,
	`div[class*="tender-item"]`,
	`div[class*="opportunity"]`,
	`tr[class*="opportunity"]`,
	`div[class*="bid-item"]`,
	`tr[class*="bid"]`,
}

var (
	idRe   = regexp.MustCompile(`(?i)\b(?:tender|bid|rfp|rfq|opportunity)\s*(?:#|no\.?|number)\s*([A-Z0-9][A-Z0-9\-]*\d[A-Z0-9\-]*)`)
	dateRe = regexp.MustCompile(`\b(\d{4}-\d{1,2}-\d{1,2}|\d{1,2}/\d{1,2}/\d{4}|[A-Z][a-z]{2,8}\.? \d{1,2}, \d{4})\b`)
)

// Extractor reads one bids&tenders listing. It needs its own session: the
// platform keeps search state and the login in cookies.
type Extractor struct {
	name      string
	searchURL *url.URL
	loginURL  string
	creds     model.Credentials
	logger    *zap.Logger
}

// New builds the extractor for one municipality.
func New(desc model.PortalDescriptor, deps extractor.Deps) (extractor.Extractor, error) {
	raw := desc.SearchURL
	if raw == "" {
		raw = desc.BaseURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("bidsandtenders: invalid search url %q", raw)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	login := u.Scheme + "://" + u.Host + "/Module/Account/Login"
	return &Extractor{
		name:      desc.Name,
		searchURL: u,
		loginURL:  login,
		creds:     desc.Credentials,
		logger:    logger.Named("extractor.bidsandtenders").With(zap.String("portal", desc.Name)),
	}, nil
}

func (e *Extractor) Name() string { return e.name }

func (e *Extractor) RequiresSession() bool { return true }

// FetchPage loads one results page for req.Term. When credentials are
// configured the session logs in before the first page of each strategy.
func (e *Extractor) FetchPage(ctx context.Context, sess session.Session, req extractor.PageRequest) (extractor.Page, error) {
	client := sess.Client()
	if req.Page == 1 && !e.creds.Empty() {
		if err := e.login(ctx, client); err != nil {
			return extractor.Page{}, err
		}
	}

	u := *e.searchURL
	q := u.Query()
	if req.Term != "" {
		q.Set("keywords", req.Term)
	}
	q.Set("page", strconv.Itoa(req.Page))
	u.RawQuery = q.Encode()

	body, err := e.get(ctx, client, u.String())
	if err != nil {
		return extractor.Page{}, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return extractor.Page{}, extractor.Transient(e.name, fmt.Errorf("parse html: %w", err))
	}
	container := doc.Find(containerSelectors).First()
	if container.Length() == 0 {
		return extractor.Page{}, extractor.Permanent(e.name, fmt.Errorf("%w: no results container", extractor.ErrStructureChanged))
	}

	rows := findRows(container)
	records := make([]extractor.RawRecord, 0, rows.Length())
	rows.Each(func(_ int, row *goquery.Selection) {
		if rec, ok := e.parseRow(row, &u); ok {
			records = append(records, rec)
		}
	})

	hasMore := hasNextPage(doc)
	e.logger.Debug("page parsed",
		zap.String("strategy", req.Term),
		zap.Int("page", req.Page),
		zap.Int("rows", rows.Length()),
		zap.Int("records", len(records)),
		zap.Bool("has_more", hasMore))

	return extractor.Page{Records: records, HasMore: hasMore && len(records) > 0}, nil
}

func (e *Extractor) get(ctx context.Context, client *http.Client, target string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, extractor.Permanent(e.name, err)
	}
	httpReq.Header.Set("Accept", "text/html")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, extractor.ClassifyTransport(ctx, e.name, fmt.Errorf("http GET: %w", err))
	}
	defer resp.Body.Close()

	if err := extractor.ClassifyStatus(e.name, resp.StatusCode); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, extractor.Transient(e.name, fmt.Errorf("read body: %w", err))
	}
	return body, nil
}

func (e *Extractor) login(ctx context.Context, client *http.Client) error {
	form := url.Values{}
	form.Set("username", e.creds.Username)
	form.Set("password", e.creds.Password)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return extractor.Permanent(e.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(httpReq)
	if err != nil {
		return extractor.ClassifyTransport(ctx, e.name, fmt.Errorf("login: %w", err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if err := extractor.ClassifyStatus(e.name, resp.StatusCode); err != nil {
		return err
	}
	e.logger.Debug("logged in")
	return nil
}

func findRows(container *goquery.Selection) *goquery.Selection {
	for _, sel := range rowSelectors {
		if rows := container.Find(sel); rows.Length() > 0 {
			return rows
		}
	}
	return container.Slice(0, 0)
}

// parseRow extracts one listing. Rows without a title are skipped.
func (e *Extractor) parseRow(row *goquery.Selection, page *url.URL) (extractor.RawRecord, bool) {
	titleSel := firstNonEmpty(row, `.tender-title`, `[class*="title"]`, `h3`, `h4`, `a`)
	title := clean(titleSel.Text())
	if title == "" {
		return extractor.RawRecord{}, false
	}

	rec := extractor.RawRecord{
		Title:        title,
		Organization: clean(firstNonEmpty(row, `.tender-org`, `[class*="organization"]`).Text()),
		PostedText:   clean(firstNonEmpty(row, `.tender-posted`, `[class*="posted"]`, `[class*="publish"]`).Text()),
		ClosingText:  clean(firstNonEmpty(row, `.tender-closing`, `[class*="closing"]`).Text()),
		Description:  clean(firstNonEmpty(row, `.tender-description`, `[class*="desc"]`, `p`).Text()),
		ValueText:    clean(firstNonEmpty(row, `.tender-value`, `[class*="value"]`).Text()),
		ExternalID:   clean(firstNonEmpty(row, `.tender-number`, `[class*="number"]`).Text()),
	}

	text := clean(row.Text())
	if rec.ExternalID == "" {
		if m := idRe.FindStringSubmatch(text); m != nil {
			rec.ExternalID = strings.ToUpper(m[1])
		}
	}
	if rec.ClosingText == "" {
		if m := dateRe.FindStringSubmatch(text); m != nil {
			rec.ClosingText = m[1]
		}
	}

	link := titleSel.Filter("a[href]")
	if link.Length() == 0 {
		link = titleSel.Find("a[href]").First()
	}
	if href, ok := link.Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			rec.SourceURL = page.ResolveReference(ref).String()
		}
	}
	if href, ok := row.Find(`a[href*="Document"], a[class*="document"]`).First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			rec.DocumentsURL = page.ResolveReference(ref).String()
		}
	}

	row.Find(`.tender-category, [class*="category"]`).Each(func(_ int, c *goquery.Selection) {
		if v := clean(c.Text()); v != "" {
			rec.Categories = append(rec.Categories, v)
		}
	})
	return rec, true
}

func hasNextPage(doc *goquery.Document) bool {
	next := doc.Find(`a[rel="next"], .pagination .next a, .pagination a.next`).First()
	if next.Length() == 0 {
		return false
	}
	if next.HasClass("disabled") || next.ParentsFiltered(".disabled").Length() > 0 {
		return false
	}
	href, _ := next.Attr("href")
	return strings.TrimSpace(href) != "" && href != "#"
}

func firstNonEmpty(row *goquery.Selection, selectors ...string) *goquery.Selection {
	for _, sel := range selectors {
		found := row.Find(sel).First()
		if found.Length() > 0 && clean(found.Text()) != "" {
			return found
		}
	}
	return row.Slice(0, 0)
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

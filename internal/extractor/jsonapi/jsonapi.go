// Package jsonapi extracts tenders from portals exposing a paged JSON search
// API (results plus a total count).
package jsonapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"tenderscan/scanner-service/internal/extractor"
	"tenderscan/scanner-service/internal/model"
	"tenderscan/scanner-service/internal/session"
)

// Kind is the portal catalog key for this extractor.
const Kind = "jsonapi"

const (
	defaultPageSize = 50
	maxBodyBytes    = 8 << 20
)

// Extractor pages through a JSON search endpoint.
type Extractor struct {
	name      string
	searchURL string
	pageSize  int
	creds     model.Credentials
	logger    *zap.Logger
}

// New builds the extractor for one portal.
func New(desc model.PortalDescriptor, deps extractor.Deps) (extractor.Extractor, error) {
	endpoint := desc.SearchURL
	if endpoint == "" {
		endpoint = desc.BaseURL
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("jsonapi: invalid search url %q: %w", endpoint, err)
	}
	size := desc.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		name:      desc.Name,
		searchURL: endpoint,
		pageSize:  size,
		creds:     desc.Credentials,
		logger:    logger.Named("extractor.jsonapi").With(zap.String("portal", desc.Name)),
	}, nil
}

func (e *Extractor) Name() string { return e.name }

// searchResponse mirrors the top-level JSON response.
type searchResponse struct {
	Results []searchResult `json:"results"`
	Total   *int           `json:"total"`
}

// searchResult mirrors a single listing.
type searchResult struct {
	ID           flexString `json:"id"`
	Title        string     `json:"title"`
	Organization string     `json:"organization"`
	Description  string     `json:"description"`
	Value        flexString `json:"value"`
	Published    string     `json:"published"`
	Closing      string     `json:"closing"`
	Region       string     `json:"region"`
	URL          string     `json:"url"`
	DocumentsURL string     `json:"documents_url"`
	Categories   []string   `json:"categories"`
	Keywords     []string   `json:"keywords"`
	ContactEmail string     `json:"contact_email"`
	ContactPhone string     `json:"contact_phone"`
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// FetchPage requests one page of results for req.Term.
func (e *Extractor) FetchPage(ctx context.Context, sess session.Session, req extractor.PageRequest) (extractor.Page, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(req.Page))
	params.Set("page_size", strconv.Itoa(e.pageSize))
	if req.Term != "" {
		params.Set("q", req.Term)
	}

	reqURL := e.searchURL
	if strings.Contains(reqURL, "?") {
		reqURL += "&" + params.Encode()
	} else {
		reqURL += "?" + params.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return extractor.Page{}, extractor.Permanent(e.name, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if !e.creds.Empty() {
		httpReq.SetBasicAuth(e.creds.Username, e.creds.Password)
	}

	resp, err := sess.Client().Do(httpReq)
	if err != nil {
		return extractor.Page{}, extractor.ClassifyTransport(ctx, e.name, fmt.Errorf("http GET: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return extractor.Page{}, extractor.Transient(e.name, fmt.Errorf("read body: %w", err))
	}
	if err := extractor.ClassifyStatus(e.name, resp.StatusCode); err != nil {
		return extractor.Page{}, err
	}

	var apiResp searchResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return extractor.Page{}, extractor.Transient(e.name, fmt.Errorf("json unmarshal: %w", err))
	}

	records := make([]extractor.RawRecord, 0, len(apiResp.Results))
	for _, r := range apiResp.Results {
		records = append(records, extractor.RawRecord{
			ExternalID:   string(r.ID),
			Title:        r.Title,
			Organization: r.Organization,
			ValueText:    string(r.Value),
			PostedText:   r.Published,
			ClosingText:  r.Closing,
			Description:  r.Description,
			Location:     r.Region,
			Categories:   r.Categories,
			Keywords:     r.Keywords,
			ContactEmail: r.ContactEmail,
			ContactPhone: r.ContactPhone,
			SourceURL:    r.URL,
			DocumentsURL: r.DocumentsURL,
		})
	}

	hasMore := len(apiResp.Results) == e.pageSize
	if apiResp.Total != nil {
		hasMore = req.Page*e.pageSize < *apiResp.Total && len(apiResp.Results) > 0
	}
	e.logger.Debug("page parsed",
		zap.String("strategy", req.Term),
		zap.Int("page", req.Page),
		zap.Int("records", len(records)),
		zap.Bool("has_more", hasMore))

	return extractor.Page{Records: records, HasMore: hasMore}, nil
}

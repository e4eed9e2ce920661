package bidsandtenders_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenderscan/scanner-service/internal/extractor"
	"tenderscan/scanner-service/internal/extractor/bidsandtenders"
	"tenderscan/scanner-service/internal/model"
	"tenderscan/scanner-service/internal/session"
)

const listing = `<!doctype html>
<html><body>
<div id="tenderResults">
  <table>
    <tr class="tender-row">
      <td class="tender-number">2026-0142</td>
      <td class="tender-title"><a href="/Module/Tenders/en/Tender/Detail/4f1c">Leadership Training for Supervisors</a></td>
      <td class="tender-org">City of Ottawa</td>
      <td class="tender-posted">Mar 1, 2026</td>
      <td class="tender-closing">Mar 20, 2026 2:00 PM</td>
      <td class="tender-description">Facilitated workshops for   front-line supervisors</td>
      <td><a class="document-link" href="/Module/Tenders/en/Tender/Documents/4f1c">Documents</a></td>
    </tr>
    <tr class="tender-row">
      <td class="tender-title"><a href="https://ottawa.test/external/77">RFP No. OT-2026-77 Coaching services</a></td>
      <td>Closes 2026-04-02</td>
    </tr>
    <tr class="tender-row"><td class="tender-title"></td></tr>
  </table>
</div>
%s
</body></html>`

const nextLink = `<ul class="pagination"><li class="next"><a href="?page=2">Next</a></li></ul>`
const disabledNext = `<ul class="pagination"><li class="next disabled"><a href="?page=3">Next</a></li></ul>`

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func newExtractor(t *testing.T, srv *httptest.Server, creds model.Credentials) extractor.Extractor {
	t.Helper()
	ex, err := bidsandtenders.New(model.PortalDescriptor{
		Name:        "City of Ottawa",
		SearchURL:   srv.URL + "/Module/Tenders/en",
		Credentials: creds,
	}, extractor.Deps{})
	require.NoError(t, err)
	return ex
}

func acquire(t *testing.T) session.Session {
	t.Helper()
	s, err := session.NewPool(1, 5*time.Second).Acquire(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFetchPage_ParsesRows(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "training", r.URL.Query().Get("keywords"))
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		fmt.Fprintf(w, listing, nextLink)
	})
	ex := newExtractor(t, srv, model.Credentials{})

	page, err := ex.FetchPage(context.Background(), acquire(t), extractor.PageRequest{Term: "training", Page: 1})

	require.NoError(t, err)
	require.Len(t, page.Records, 2, "rows without a title are skipped")
	assert.True(t, page.HasMore)

	first := page.Records[0]
	assert.Equal(t, "2026-0142", first.ExternalID)
	assert.Equal(t, "Leadership Training for Supervisors", first.Title)
	assert.Equal(t, "City of Ottawa", first.Organization)
	assert.Equal(t, "Mar 1, 2026", first.PostedText)
	assert.Equal(t, "Mar 20, 2026 2:00 PM", first.ClosingText)
	assert.Equal(t, "Facilitated workshops for front-line supervisors", first.Description)
	assert.Equal(t, srv.URL+"/Module/Tenders/en/Tender/Detail/4f1c", first.SourceURL)
	assert.Equal(t, srv.URL+"/Module/Tenders/en/Tender/Documents/4f1c", first.DocumentsURL)

	second := page.Records[1]
	assert.Equal(t, "OT-2026-77", second.ExternalID)
	assert.Equal(t, "2026-04-02", second.ClosingText)
	assert.Equal(t, "https://ottawa.test/external/77", second.SourceURL)
}

func TestFetchPage_LastPage(t *testing.T) {
	for name, footer := range map[string]string{"no pagination": "", "disabled next": disabledNext} {
		t.Run(name, func(t *testing.T) {
			srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprintf(w, listing, footer)
			})
			ex := newExtractor(t, srv, model.Credentials{})

			page, err := ex.FetchPage(context.Background(), acquire(t), extractor.PageRequest{Page: 1})

			require.NoError(t, err)
			assert.False(t, page.HasMore)
		})
	}
}

func TestFetchPage_EmptyResultsContainer(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<div class="search-results"><p>No opportunities found.</p></div>` + nextLink))
	})
	ex := newExtractor(t, srv, model.Credentials{})

	page, err := ex.FetchPage(context.Background(), acquire(t), extractor.PageRequest{Page: 1})

	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.False(t, page.HasMore)
}

func TestFetchPage_UnrecognisedMarkupIsPermanent(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><h1>We have moved!</h1></body></html>`))
	})
	ex := newExtractor(t, srv, model.Credentials{})

	_, err := ex.FetchPage(context.Background(), acquire(t), extractor.PageRequest{Page: 1})

	assert.True(t, extractor.IsPermanent(err))
	assert.ErrorIs(t, err, extractor.ErrStructureChanged)
}

func TestFetchPage_LoginCookieCarriedBySession(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/Module/Account/Login" {
			assert.NoError(t, r.ParseForm())
			if r.PostForm.Get("username") != "buyer" || r.PostForm.Get("password") != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			http.SetCookie(w, &http.Cookie{Name: "bt_session", Value: "ok", Path: "/"})
			return
		}
		if c, err := r.Cookie("bt_session"); err != nil || c.Value != "ok" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprintf(w, listing, "")
	})

	ex := newExtractor(t, srv, model.Credentials{Username: "buyer", Password: "secret"})
	page, err := ex.FetchPage(context.Background(), acquire(t), extractor.PageRequest{Page: 1})
	require.NoError(t, err)
	assert.Len(t, page.Records, 2)

	rejected := newExtractor(t, srv, model.Credentials{Username: "buyer", Password: "wrong"})
	_, err = rejected.FetchPage(context.Background(), acquire(t), extractor.PageRequest{Page: 1})
	assert.True(t, extractor.IsPermanent(err))
	assert.ErrorIs(t, err, extractor.ErrAuthRejected)
}

func TestFetchPage_ServerErrorIsTransient(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	ex := newExtractor(t, srv, model.Credentials{})

	_, err := ex.FetchPage(context.Background(), acquire(t), extractor.PageRequest{Page: 1})

	assert.True(t, extractor.IsTransient(err))
}

func TestRequiresSession(t *testing.T) {
	srv := newServer(t, http.NotFound)
	assert.True(t, extractor.NeedsSession(newExtractor(t, srv, model.Credentials{})))
}

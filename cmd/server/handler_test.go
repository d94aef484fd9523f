package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"giftvalue/internal/config"
	"giftvalue/internal/data"
	"giftvalue/internal/logger"
	"giftvalue/internal/provider"
	"giftvalue/internal/render"
)

const recipientsDoc = `{
  "anna": {"recipient": "Anna", "giver": "Grandpa", "gift_date": "2025-10-14", "initial_price": 20, "quantity": 2},
  "ben":  {"recipient": "Ben", "giver": "Aunt May", "gift_date": "2026-10-01", "initial_price": 30}
}`

const historyDoc = `[
  {"date": "2026-09-01", "price": 24},
  {"date": "2026-09-30", "price": 25}
]`

type upstream struct {
	srv        *httptest.Server
	openCalls  atomic.Int32
	keyedCalls atomic.Int32
	fail       atomic.Bool
	hang       atomic.Bool
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u.hang.Load() {
			<-r.Context().Done()
			return
		}
		if u.fail.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		switch r.URL.Path {
		case "/open":
			u.openCalls.Add(1)
			_, _ = w.Write([]byte(`{"silver": {"usd": 30}}`))
		case "/keyed":
			u.keyedCalls.Add(1)
			if r.URL.Query().Get("apikey") != "secret" {
				http.Error(w, "bad key", http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"quote": {"price": "35.5", "at": "2026-10-14T09:00:00Z"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func newTestApp(t *testing.T, up *upstream) (*app, *logger.MockLogger) {
	t.Helper()
	dir := t.TempDir()
	endpoints := fmt.Sprintf(`[
	  {"name": "keyed", "url": %q, "price_path": "quote.price", "timestamp_path": "quote.at", "auth_param": "apikey", "priority": 0},
	  {"name": "open", "url": %q, "price_path": "silver.usd", "auth_param": "none", "priority": 1}
	]`, up.srv.URL+"/keyed?apikey={auth}", up.srv.URL+"/open")
	for name, body := range map[string]string{
		"endpoints.json":  endpoints,
		"recipients.json": recipientsDoc,
		"history.json":    historyDoc,
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}

	cfg := config.Default()
	cfg.Data.Dir = dir
	cfg.Fetch.Attempts = 1
	cfg.Fetch.InitialBackoffMS = 0
	cfg.Cache.TTLSeconds = 0

	mlog := logger.NewMockLogger()
	a := newApp(cfg, mlog)
	a.now = func() time.Time { return time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC) }
	return a, mlog
}

func getJSON(t *testing.T, h http.Handler, target string) render.Page {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var p render.Page
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	return p
}

func TestGift_UnknownRecipientShowsSelectionWithoutFetching(t *testing.T) {
	up := newUpstream(t)
	a, _ := newTestApp(t, up)

	p := getJSON(t, a.routes(), "/api/gift?to=nobody")

	assert.Equal(t, render.ViewSelect, p.View)
	require.Len(t, p.Choices, 2)
	assert.Equal(t, "Anna", p.Choices[0].Name)
	assert.Equal(t, "ben", p.Choices[1].ID)
	assert.Zero(t, up.openCalls.Load())
	assert.Zero(t, up.keyedCalls.Load())
}

func TestGift_LiveFromOpenEndpointWhenKeyMissing(t *testing.T) {
	up := newUpstream(t)
	a, _ := newTestApp(t, up)

	p := getJSON(t, a.routes(), "/api/gift?to=anna")

	assert.Equal(t, render.ViewGift, p.View)
	assert.Equal(t, "Grandpa gave Anna 2 oz of silver 1 year ago.", p.Headline)
	assert.Equal(t, "$60.00", p.Value)
	assert.Equal(t, "+50.0%", p.Change)
	assert.Contains(t, p.PriceNote, "from open")
	assert.Zero(t, up.keyedCalls.Load(), "keyed endpoint skipped without a key")
	assert.EqualValues(t, 1, up.openCalls.Load())

	require.NotNil(t, p.Chart)
	assert.Equal(t, []string{"2026-09-01", "2026-09-30", "today"}, p.Chart.Labels)
}

func TestGift_QueryKeyUnlocksPreferredEndpoint(t *testing.T) {
	up := newUpstream(t)
	a, _ := newTestApp(t, up)

	p := getJSON(t, a.routes(), "/api/gift?to=anna&apikey=secret")

	assert.Equal(t, "$71.00", p.Value)
	assert.Contains(t, p.PriceNote, "from keyed")
	assert.EqualValues(t, 1, up.keyedCalls.Load())
	assert.Zero(t, up.openCalls.Load())
}

func TestGift_WrongKeyFallsThroughToNextEndpoint(t *testing.T) {
	up := newUpstream(t)
	a, mlog := newTestApp(t, up)

	p := getJSON(t, a.routes(), "/api/gift?to=anna&apikey=wrong")

	assert.Equal(t, "$60.00", p.Value)
	assert.EqualValues(t, 1, up.keyedCalls.Load())
	assert.EqualValues(t, 1, up.openCalls.Load())
	assert.NotEmpty(t, mlog.WarnMessages)
}

func TestGift_UpstreamDownUsesLastKnownPrice(t *testing.T) {
	up := newUpstream(t)
	up.fail.Store(true)
	a, _ := newTestApp(t, up)

	p := getJSON(t, a.routes(), "/api/gift?to=anna")

	assert.Equal(t, "$50.00", p.Value)
	assert.Contains(t, p.PriceNote, "last known price of $25.00/oz from 2026-09-30")
	require.NotNil(t, p.Chart)
	assert.NotContains(t, p.Chart.Labels, "today")
}

func TestGift_NoPriceAtAllShowsPlaceholder(t *testing.T) {
	up := newUpstream(t)
	up.fail.Store(true)
	a, mlog := newTestApp(t, up)
	require.NoError(t, os.Remove(filepath.Join(string(a.src.(data.Dir)), "history.json")))

	p := getJSON(t, a.routes(), "/api/gift?to=anna")

	assert.Equal(t, render.Placeholder, p.Value)
	assert.Empty(t, p.Change)
	assert.NotEmpty(t, mlog.WarnMessages)
}

func TestPage_RendersHTML(t *testing.T) {
	up := newUpstream(t)
	a, _ := newTestApp(t, up)

	rr := httptest.NewRecorder()
	a.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/?to=anna", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/html; charset=utf-8", rr.Header().Get("Content-Type"))
	body := rr.Body.String()
	assert.Contains(t, body, "<title>A gift for Anna</title>")
	assert.Contains(t, body, "Today it is worth $60.00 (+50.0%).")
	assert.Contains(t, body, `id="chart"`)
	assert.Contains(t, body, `"labels":["2026-09-01","2026-09-30","today"]`)
}

func TestPage_SelectionLinksRecipients(t *testing.T) {
	up := newUpstream(t)
	a, _ := newTestApp(t, up)

	rr := httptest.NewRecorder()
	a.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `<a href="?to=anna">Anna</a>`)
	assert.Contains(t, body, `<a href="?to=ben">Ben</a>`)
	assert.NotContains(t, body, `id="chart"`)
}

func TestRecoverPanic_ShowsReloadPrompt(t *testing.T) {
	a := &app{log: logger.NewMockLogger()}
	h := a.recoverPanic(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), render.ReloadPrompt)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/gift", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	var p render.Page
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	assert.Equal(t, render.ViewError, p.View)
}

func TestData_ServesKnownFilesOnly(t *testing.T) {
	up := newUpstream(t)
	a, _ := newTestApp(t, up)
	h := a.routes()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/data/history.json", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, historyDoc, rr.Body.String())

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/data/secrets.json", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHealthzAndRequestID(t *testing.T) {
	up := newUpstream(t)
	a, mlog := newTestApp(t, up)
	h := a.routes()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.Equal(t, "req-1", rr.Header().Get("X-Request-ID"))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	found := false
	for _, m := range mlog.InfoMessages {
		if strings.Contains(m, "request_id=req-1") {
			found = true
		}
	}
	assert.True(t, found, "request log line carries the id: %v", mlog.InfoMessages)
}

func TestCredentials_QueryOverridesServer(t *testing.T) {
	a := &app{recipientParam: "to"}
	a.creds = map[string][]string{"apikey": {"server"}, "token": {"t"}}

	got := a.credentials(map[string][]string{"to": {"anna"}, "apikey": {"query"}, "empty": {""}})

	assert.Equal(t, "query", got.Get("apikey"))
	assert.Equal(t, "t", got.Get("token"))
	assert.False(t, got.Has("to"))
	assert.False(t, got.Has("empty"))
	assert.Equal(t, "server", a.creds["apikey"][0], "server credentials untouched")
}

func TestGift_RequestTimeoutBoundsSlowUpstream(t *testing.T) {
	up := newUpstream(t)
	up.hang.Store(true)
	a, _ := newTestApp(t, up)
	a.reqTimeout = 300 * time.Millisecond

	start := time.Now()
	p := getJSON(t, a.routes(), "/api/gift?to=anna")
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 3*time.Second)
	assert.Equal(t, "$50.00", p.Value, "expired lookup falls back to the last known price")
	assert.Contains(t, p.PriceNote, "last known price")
}

func TestPage_SelectionLinksUseConfiguredParam(t *testing.T) {
	up := newUpstream(t)
	a, _ := newTestApp(t, up)
	a.recipientParam = "r"
	h := a.routes()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `<a href="?r=anna">Anna</a>`)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/?r=anna", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `class="view-gift"`)
}

func TestCredentialKey_SeparatesCredentialValues(t *testing.T) {
	eps := []provider.Endpoint{
		{Name: "keyed", AuthParam: "apikey"},
		{Name: "open", AuthParam: provider.AuthNone},
	}
	good := credentialKey(eps, url.Values{"apikey": {"secret"}})
	wrong := credentialKey(eps, url.Values{"apikey": {"wrong"}})

	assert.NotEqual(t, good, wrong)
	assert.Equal(t, good, credentialKey(eps, url.Values{"apikey": {"secret"}, "other": {"x"}}))
	assert.NotContains(t, good, "secret")
	assert.Equal(t, "auth:", credentialKey(eps, url.Values{}))
}

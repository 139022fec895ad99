package checker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkcheck/internal/config"
	"linkcheck/internal/db"
	"linkcheck/internal/exclusion"
	"linkcheck/internal/logger"
	"linkcheck/internal/models"
	"linkcheck/internal/throttle"
)

type memCache struct {
	mu      sync.Mutex
	entries map[string]*models.ResponseRecord
}

func newMemCache() *memCache {
	return &memCache{entries: map[string]*models.ResponseRecord{}}
}

func (m *memCache) HasEntry(_ context.Context, url, linkType string, _ bool, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[linkType+"|"+url]
	return ok, nil
}

func (m *memCache) GetResponse(_ context.Context, url, linkType string, _ time.Duration) (*models.ResponseRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[linkType+"|"+url], nil
}

func (m *memCache) SetResult(_ context.Context, url, linkType string, rec *models.ResponseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[linkType+"|"+url] = rec
	return nil
}

func (m *memCache) Remove(_ context.Context, url, linkType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, linkType+"|"+url)
	return nil
}

func (m *memCache) get(url string) *models.ResponseRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[LinkTypeExternal+"|"+url]
}

type ruleStore []models.ExclusionRule

func (r ruleStore) ListExclusionRules(context.Context, db.ExclusionFilter) ([]models.ExclusionRule, error) {
	return r, nil
}

// target is an httptest server that records the requests it received.
type target struct {
	*httptest.Server
	mu       sync.Mutex
	requests []*http.Request
}

func newTarget(t *testing.T, h http.HandlerFunc) *target {
	t.Helper()
	tg := &target{}
	tg.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tg.mu.Lock()
		tg.requests = append(tg.requests, r.Clone(context.Background()))
		tg.mu.Unlock()
		h(w, r)
	}))
	t.Cleanup(tg.Close)
	return tg
}

func (tg *target) methods() []string {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	out := make([]string, 0, len(tg.requests))
	for _, r := range tg.requests {
		out = append(out, r.Method)
	}
	return out
}

func (tg *target) count() int {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	return len(tg.requests)
}

func testConfig() *config.CheckerConfig {
	return &config.CheckerConfig{
		Timeout:           5 * time.Second,
		ConnectTimeout:    2 * time.Second,
		SSLVerifyPeer:     true,
		MaxRedirects:      5,
		UserAgent:         "linkcheck-test",
		Headers:           map[string]string{"Accept": "*/*"},
		CacheExpiresShort: time.Hour,
		CacheExpiresLong:  2 * time.Hour,
		NonCheckableMatch: `regex:/^http_status:(401|403)(:|$)/`,
		DoubleErrorPolicy: config.PreferGet,
	}
}

type fixture struct {
	checker  *ExternalChecker
	cache    *memCache
	throttle *throttle.CrawlDelay
}

func newFixture(t *testing.T, cfg *config.CheckerConfig, rules ...models.ExclusionRule) *fixture {
	t.Helper()
	log := logger.NewNop()
	th, err := throttle.New(0, "", log)
	require.NoError(t, err)
	f := &fixture{cache: newMemCache(), throttle: th}
	f.checker, err = NewExternalChecker(cfg, Deps{
		Excluder: exclusion.NewMatcher(ruleStore(rules), 0, log),
		Cache:    f.cache,
		Throttle: th,
	}, log)
	require.NoError(t, err)
	return f
}

func respond(status int, header map[string]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for k, v := range header {
			w.Header().Set(k, v)
		}
		w.WriteHeader(status)
	}
}

func TestCheckLink_Excluded(t *testing.T) {
	srv := newTarget(t, respond(http.StatusOK, nil))
	url := srv.URL + "/page"

	tests := []struct {
		name string
		rule models.ExclusionRule
	}{
		{"exact", models.ExclusionRule{MatchType: models.MatchExact, LinkType: LinkTypeExternal, Target: url}},
		{"domain", models.ExclusionRule{MatchType: models.MatchDomain, LinkType: LinkTypeExternal, Target: "127.0.0.1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testConfig(), tt.rule)
			rec, err := f.checker.CheckLink(context.Background(), url, models.LinkCandidate{}, 0)
			require.NoError(t, err)
			assert.Equal(t, models.StatusExcluded, rec.Status)
			assert.Nil(t, f.cache.get(url), "excluded results are not cached")
		})
	}
	assert.Zero(t, srv.count())
}

func TestCheckLink_CacheHit(t *testing.T) {
	srv := newTarget(t, respond(http.StatusOK, nil))
	url := srv.URL + "/"
	cached := models.NewErrorRecord(models.ErrorKindHTTPStatus, 404, "", time.Now())

	tests := []struct {
		name       string
		flags      Flags
		wantCached bool
	}{
		{"hit returns cached record", 0, true},
		{"synchronous hit", Synchronous, true},
		{"no cache on error re-checks broken", NoCacheOnError, false},
		{"no cache ignores cache", NoCache, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testConfig())
			require.NoError(t, f.cache.SetResult(context.Background(), url, LinkTypeExternal, cached))
			before := srv.count()

			rec, err := f.checker.CheckLink(context.Background(), url, models.LinkCandidate{}, tt.flags)
			require.NoError(t, err)
			if tt.wantCached {
				assert.Same(t, cached, rec)
				assert.Equal(t, before, srv.count())
			} else {
				assert.Equal(t, models.StatusOK, rec.Status)
				assert.Greater(t, srv.count(), before)
				assert.Equal(t, models.StatusOK, f.cache.get(url).Status)
			}
		})
	}
}

func TestCheckLink_OKProbesHeadThenRangedGet(t *testing.T) {
	srv := newTarget(t, respond(http.StatusOK, map[string]string{"Server": "nginx"}))
	f := newFixture(t, testConfig())
	url := srv.URL + "/ok"

	rec, err := f.checker.CheckLink(context.Background(), url, models.LinkCandidate{Custom: map[string]any{"k": "v"}}, 0)
	require.NoError(t, err)

	assert.Equal(t, models.StatusOK, rec.Status)
	assert.Empty(t, rec.ErrorKind)
	assert.Equal(t, url, rec.EffectiveURL())
	assert.Equal(t, map[string]any{"k": "v"}, rec.Custom)
	assert.Equal(t, []string{http.MethodHead, http.MethodGet}, srv.methods())

	srv.mu.Lock()
	assert.Empty(t, srv.requests[0].Header.Get("Range"))
	assert.Equal(t, rangeHeader, srv.requests[1].Header.Get("Range"))
	assert.Equal(t, "linkcheck-test", srv.requests[1].Header.Get("User-Agent"))
	srv.mu.Unlock()

	assert.Equal(t, rec, f.cache.get(url), "cached under the original URL")

	st, ok := f.throttle.State("127.0.0.1")
	require.True(t, ok)
	assert.False(t, st.LastCheckedAt.IsZero())
}

func TestCheckLink_NotFound(t *testing.T) {
	srv := newTarget(t, respond(http.StatusNotFound, map[string]string{"Server": "nginx"}))
	f := newFixture(t, testConfig())

	rec, err := f.checker.CheckLink(context.Background(), srv.URL+"/missing", models.LinkCandidate{}, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBroken, rec.Status)
	assert.Equal(t, models.ErrorKindHTTPStatus, rec.ErrorKind)
	assert.Equal(t, 404, rec.ErrorCode)
	assert.Equal(t, "HTTP status: 404", rec.HumanMessage)
}

func TestCheckLink_CloudflareOnHead(t *testing.T) {
	tests := []struct {
		status   int
		wantCode int
	}{
		{http.StatusOK, 0},
		{http.StatusForbidden, 0},
		{http.StatusNotFound, 404},
		{http.StatusServiceUnavailable, 503},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			srv := newTarget(t, respond(tt.status, map[string]string{"Server": "Cloudflare"}))
			f := newFixture(t, testConfig())

			rec, err := f.checker.CheckLink(context.Background(), srv.URL+"/", models.LinkCandidate{}, 0)
			require.NoError(t, err)
			assert.Equal(t, models.StatusUnknown, rec.Status)
			assert.Equal(t, models.ReasonCloudflare, rec.CannotCheckReason)
			assert.Equal(t, tt.wantCode, rec.ErrorCode)
			assert.Equal(t, []string{http.MethodHead}, srv.methods(), "no GET after a CDN HEAD")

			_, seen := f.throttle.State("127.0.0.1")
			assert.True(t, seen, "check time is recorded")
		})
	}
}

func TestCheckLink_CloudflareOnGetOverridesHead(t *testing.T) {
	srv := newTarget(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Server", "nginx")
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Server", "cloudflare")
		w.WriteHeader(http.StatusOK)
	})
	f := newFixture(t, testConfig())

	rec, err := f.checker.CheckLink(context.Background(), srv.URL+"/", models.LinkCandidate{}, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnknown, rec.Status)
	assert.Equal(t, models.ReasonCloudflare, rec.CannotCheckReason)
	assert.Empty(t, rec.ErrorKind)
}

func rateLimitedOnGet(status int, retryAfter string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		if retryAfter != "" {
			w.Header().Set("Retry-After", retryAfter)
		}
		w.WriteHeader(status)
	}
}

func TestCheckLink_TooManyRequestsSuspendsDomain(t *testing.T) {
	srv := newTarget(t, rateLimitedOnGet(http.StatusTooManyRequests, "120"))
	f := newFixture(t, testConfig())
	now := time.Now().Truncate(time.Second)
	f.checker.now = func() time.Time { return now }

	rec, err := f.checker.CheckLink(context.Background(), srv.URL+"/a", models.LinkCandidate{}, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCannotCheck, rec.Status)
	assert.Equal(t, models.ReasonTooManyRequests, rec.CannotCheckReason)
	assert.Equal(t, 429, rec.ErrorCode)

	st, ok := f.throttle.State("127.0.0.1")
	require.True(t, ok)
	assert.True(t, st.Suspended)
	assert.Equal(t, now.Add(120*time.Second), st.ResumeAt)
	assert.Equal(t, models.ReasonTooManyRequests, st.SuspendReason)

	before := srv.count()
	rec, err = f.checker.CheckLink(context.Background(), srv.URL+"/b", models.LinkCandidate{}, 0)
	assert.ErrorIs(t, err, ErrSkipped)
	assert.Nil(t, rec)
	assert.Equal(t, before, srv.count())
	assert.Nil(t, f.cache.get(srv.URL+"/b"))

	// NoCrawlDelay bypasses the throttle entirely
	_, err = f.checker.CheckLink(context.Background(), srv.URL+"/c", models.LinkCandidate{}, NoCrawlDelay)
	assert.NoError(t, err)
}

func TestCheckLink_ServiceUnavailableWithDate(t *testing.T) {
	resumeAt := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	srv := newTarget(t, rateLimitedOnGet(http.StatusServiceUnavailable, resumeAt.Format(http.TimeFormat)))
	f := newFixture(t, testConfig())

	rec, err := f.checker.CheckLink(context.Background(), srv.URL+"/", models.LinkCandidate{}, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCannotCheck, rec.Status)
	assert.Equal(t, models.ReasonServiceUnavailable, rec.CannotCheckReason)

	st, _ := f.throttle.State("127.0.0.1")
	assert.True(t, resumeAt.Equal(st.ResumeAt))
}

func TestCheckLink_RateLimitWithoutRetryAfterSuspendsUntilCleared(t *testing.T) {
	srv := newTarget(t, rateLimitedOnGet(http.StatusTooManyRequests, ""))
	f := newFixture(t, testConfig())

	_, err := f.checker.CheckLink(context.Background(), srv.URL+"/", models.LinkCandidate{}, 0)
	require.NoError(t, err)

	st, _ := f.throttle.State("127.0.0.1")
	assert.True(t, st.Suspended)
	assert.True(t, st.ResumeAt.IsZero())
}

func TestCheckLink_NonCheckableHeuristic(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		cfRay      bool
		wantStatus models.Status
		wantReason string
	}{
		{"403 with cf header", http.StatusForbidden, true, models.StatusCannotCheck, models.ReasonCloudflare},
		{"403 without cf header", http.StatusForbidden, false, models.StatusCannotCheck, ""},
		{"401 without cf header", http.StatusUnauthorized, false, models.StatusCannotCheck, ""},
		{"404 with cf header", http.StatusNotFound, true, models.StatusBroken, ""},
		{"200 with cf header", http.StatusOK, true, models.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := map[string]string{"Server": "nginx"}
			if tt.cfRay {
				h["CF-RAY"] = "8a1b2c3d4e5f-FRA"
			}
			srv := newTarget(t, respond(tt.status, h))
			f := newFixture(t, testConfig())

			rec, err := f.checker.CheckLink(context.Background(), srv.URL+"/", models.LinkCandidate{}, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, rec.Status)
			assert.Equal(t, tt.wantReason, rec.CannotCheckReason)
		})
	}
}

func TestCheckLink_NonCheckablePrefixList(t *testing.T) {
	srv := newTarget(t, respond(http.StatusGone, nil))
	cfg := testConfig()
	cfg.NonCheckableMatch = "http_status:410, transport_errno:"
	f := newFixture(t, cfg)

	rec, err := f.checker.CheckLink(context.Background(), srv.URL+"/", models.LinkCandidate{}, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCannotCheck, rec.Status)
}

func headAndGet(headStatus, getStatus int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(headStatus)
			return
		}
		w.WriteHeader(getStatus)
	}
}

func TestCheckLink_HeadGetPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		head     int
		get      int
		policy   string
		wantCode int
		wantOK   bool
	}{
		{"head error get ok", http.StatusMethodNotAllowed, http.StatusOK, config.PreferGet, 0, true},
		{"head ok get error", http.StatusOK, http.StatusNotFound, config.PreferGet, 404, false},
		{"both error prefer get", http.StatusMethodNotAllowed, http.StatusNotFound, config.PreferGet, 404, false},
		{"both error prefer head", http.StatusMethodNotAllowed, http.StatusNotFound, config.PreferHead, 405, false},
		{"prefer head still takes get success", http.StatusMethodNotAllowed, http.StatusOK, config.PreferHead, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTarget(t, headAndGet(tt.head, tt.get))
			cfg := testConfig()
			cfg.DoubleErrorPolicy = tt.policy
			f := newFixture(t, cfg)

			rec, err := f.checker.CheckLink(context.Background(), srv.URL+"/", models.LinkCandidate{}, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, rec.Status == models.StatusOK)
			assert.Equal(t, tt.wantCode, rec.ErrorCode)
		})
	}
}

func TestCheckLink_RecordsRedirects(t *testing.T) {
	var srv *target
	srv = newTarget(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/start":
			http.Redirect(w, r, "/middle", http.StatusFound)
		case "/middle":
			http.Redirect(w, r, "/end", http.StatusMovedPermanently)
		default:
			w.WriteHeader(http.StatusOK)
		}
	})
	f := newFixture(t, testConfig())

	rec, err := f.checker.CheckLink(context.Background(), srv.URL+"/start", models.LinkCandidate{}, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOK, rec.Status)
	assert.Equal(t, []models.Redirect{
		{From: srv.URL + "/start", To: srv.URL + "/middle"},
		{From: srv.URL + "/middle", To: srv.URL + "/end"},
	}, rec.Redirects)
	assert.Equal(t, srv.URL+"/end", rec.EffectiveURL())
}

func TestCheckLink_TooManyRedirects(t *testing.T) {
	srv := newTarget(t, func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.Atoi(r.URL.Query().Get("n"))
		http.Redirect(w, r, "/loop?n="+strconv.Itoa(n+1), http.StatusFound)
	})
	cfg := testConfig()
	cfg.MaxRedirects = 2
	f := newFixture(t, cfg)

	rec, err := f.checker.CheckLink(context.Background(), srv.URL+"/loop", models.LinkCandidate{}, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBroken, rec.Status)
	assert.Equal(t, models.ErrorKindTooManyRedirects, rec.ErrorKind)
	assert.Equal(t, "Too many redirects", rec.HumanMessage)
	assert.Len(t, rec.Redirects, 2)
}

func TestCheckLink_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/"
	srv.Close()

	f := newFixture(t, testConfig())
	rec, err := f.checker.CheckLink(context.Background(), url, models.LinkCandidate{}, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBroken, rec.Status)
	assert.Equal(t, models.ErrorKindTransportErrno, rec.ErrorKind)
	assert.Equal(t, int(syscall.ECONNREFUSED), rec.ErrorCode)
}

func TestCheckLink_Timeout(t *testing.T) {
	srv := newTarget(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	cfg := testConfig()
	cfg.Timeout = 100 * time.Millisecond
	f := newFixture(t, cfg)

	rec, err := f.checker.CheckLink(context.Background(), srv.URL+"/", models.LinkCandidate{}, 0)
	require.NoError(t, err)
	assert.Equal(t, models.ErrorKindTransportErrno, rec.ErrorKind)
	assert.Equal(t, int(syscall.ETIMEDOUT), rec.ErrorCode)
}

func TestCheckLink_Unparseable(t *testing.T) {
	for _, raw := range []string{"   ", "http://", "http://%zz/"} {
		t.Run(raw, func(t *testing.T) {
			f := newFixture(t, testConfig())
			rec, err := f.checker.CheckLink(context.Background(), raw, models.LinkCandidate{}, 0)
			require.NoError(t, err)
			assert.Equal(t, models.StatusBroken, rec.Status)
			assert.Equal(t, models.ErrorKindUnparseableURI, rec.ErrorKind)
			assert.Equal(t, "Invalid URL", rec.HumanMessage)
		})
	}
}

func TestCheckLink_CookiesCarryFromHeadToGet(t *testing.T) {
	srv := newTarget(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			http.SetCookie(w, &http.Cookie{Name: "consent", Value: "yes", Path: "/"})
		}
	})
	f := newFixture(t, testConfig())

	_, err := f.checker.CheckLink(context.Background(), srv.URL+"/", models.LinkCandidate{}, 0)
	require.NoError(t, err)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.Len(t, srv.requests, 2)
	c, err := srv.requests[1].Cookie("consent")
	require.NoError(t, err)
	assert.Equal(t, "yes", c.Value)
}

func TestCheckLink_Cancelled(t *testing.T) {
	srv := newTarget(t, respond(http.StatusOK, nil))
	f := newFixture(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec, err := f.checker.CheckLink(ctx, srv.URL+"/", models.LinkCandidate{}, NoCache)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, rec)
	assert.Nil(t, f.cache.get(srv.URL+"/"))
}

func TestCheckLink_NoConfiguration(t *testing.T) {
	c, err := NewExternalChecker(nil, Deps{}, logger.NewNop())
	require.NoError(t, err)

	rec, err := c.CheckLink(context.Background(), "https://example.com/", models.LinkCandidate{}, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBroken, rec.Status)
	assert.Equal(t, models.ErrorKindUnknown, rec.ErrorKind)
}

func TestNewExternalChecker_InvalidPattern(t *testing.T) {
	cfg := testConfig()
	cfg.NonCheckableMatch = "regex:/[/"
	_, err := NewExternalChecker(cfg, Deps{}, logger.NewNop())
	assert.Error(t, err)
}

func TestPreprocessURL(t *testing.T) {
	tests := []struct {
		raw        string
		wantTarget string
		wantDomain string
	}{
		{"https://Example.COM/a?b=1&amp;c=2", "https://Example.COM/a?b=1&c=2", "example.com"},
		{"http://bücher.example/path", "http://xn--bcher-kva.example/path", "xn--bcher-kva.example"},
		{"http://bücher.example:8080/", "http://xn--bcher-kva.example:8080/", "xn--bcher-kva.example"},
		{"http://127.0.0.1:9000/x", "http://127.0.0.1:9000/x", "127.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			target, domain, err := preprocessURL(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTarget, target)
			assert.Equal(t, tt.wantDomain, domain)
		})
	}
}

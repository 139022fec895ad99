package checker

import (
	"context"
	"errors"
	"html"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/idna"

	"linkcheck/internal/cache"
	"linkcheck/internal/config"
	"linkcheck/internal/logger"
	"linkcheck/internal/metrics"
	"linkcheck/internal/models"
	"linkcheck/internal/pattern"
)

// LinkTypeExternal is the tag of http(s) targets.
const LinkTypeExternal = "external"

// rangeHeader limits GET probes to the start of the body.
const rangeHeader = "bytes=0-4048"

var (
	errEmptyURL = errors.New("URL became empty after preprocessing")
	errNoHost   = errors.New("URL has no host")
)

// Excluder decides whether a target is exempt from checking.
type Excluder interface {
	IsExcluded(ctx context.Context, target, linkType string) bool
}

// Throttle spaces out and suspends checks per domain.
type Throttle interface {
	AllowCheck(ctx context.Context, domain string) bool
	RecordChecked(domain string)
	Suspend(ctx context.Context, domain string, resumeAt time.Time, reason string)
}

// Deps are the collaborators of an ExternalChecker. Nil Excluder, Cache and
// Throttle disable the respective step.
type Deps struct {
	Transport Transport
	Excluder  Excluder
	Cache     cache.ResultCache
	Throttle  Throttle
}

// ExternalChecker checks http(s) targets with a HEAD probe followed by a
// ranged GET, recognising CDN challenge pages and rate limiting.
type ExternalChecker struct {
	cfg          *config.CheckerConfig
	deps         Deps
	headers      http.Header
	nonCheckable *pattern.Set
	log          logger.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

// NewExternalChecker builds a checker. A nil cfg yields a checker whose every
// result is an unknown error, so a misconfigured pass still completes.
func NewExternalChecker(cfg *config.CheckerConfig, deps Deps, log logger.Logger) (*ExternalChecker, error) {
	c := &ExternalChecker{
		cfg:    cfg,
		deps:   deps,
		log:    log,
		tracer: otel.Tracer("linkcheck/checker"),
		now:    time.Now,
	}
	if cfg == nil {
		return c, nil
	}

	set, err := pattern.Parse(cfg.NonCheckableMatch, pattern.Prefix)
	if err != nil {
		return nil, err
	}
	c.nonCheckable = set

	c.headers = make(http.Header, len(cfg.Headers)+1)
	for k, v := range cfg.Headers {
		c.headers.Set(k, v)
	}
	if cfg.UserAgent != "" {
		c.headers.Set("User-Agent", cfg.UserAgent)
	}

	if c.deps.Transport == nil {
		c.deps.Transport = NewHTTPTransport(TransportConfig{
			Timeout:              cfg.Timeout,
			ConnectTimeout:       cfg.ConnectTimeout,
			SSLVerifyPeer:        cfg.SSLVerifyPeer,
			MaxRedirects:         cfg.MaxRedirects,
			MaxRequestsPerSecond: cfg.MaxRequestsPerSecond,
		})
	}
	return c, nil
}

// CheckLink checks rawURL. It returns ErrSkipped when the domain may not be
// checked right now, and ctx.Err() when ctx ends mid-check.
func (c *ExternalChecker) CheckLink(ctx context.Context, rawURL string, meta models.LinkCandidate, flags Flags) (*models.ResponseRecord, error) {
	if c.cfg == nil {
		c.log.Error("External checker has no configuration", logger.String("url", rawURL))
		return models.NewErrorRecord(models.ErrorKindUnknown, 0, "configuration not set", c.now()), nil
	}

	ctx, span := c.tracer.Start(ctx, "checker.CheckLink", trace.WithAttributes(
		attribute.String("link.url", rawURL),
		attribute.Int("link.flags", int(flags)),
	))
	defer span.End()

	if c.deps.Excluder != nil && c.deps.Excluder.IsExcluded(ctx, rawURL, LinkTypeExternal) {
		span.SetAttributes(attribute.String("link.status", models.StatusExcluded.String()))
		return models.NewExcludedRecord(c.now()), nil
	}

	if !flags.Has(NoCache) && c.deps.Cache != nil {
		if rec := c.cached(ctx, rawURL, flags); rec != nil {
			span.SetAttributes(attribute.Bool("link.cached", true))
			return rec, nil
		}
	}

	var rec *models.ResponseRecord
	target, domain, err := preprocessURL(rawURL)
	if err != nil {
		rec = models.NewErrorRecord(models.ErrorKindUnparseableURI, 0, err.Error(), c.now())
	} else {
		if !flags.Has(NoCrawlDelay) && c.deps.Throttle != nil {
			if !c.deps.Throttle.AllowCheck(ctx, domain) {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				span.SetAttributes(attribute.Bool("link.skipped", true))
				return nil, ErrSkipped
			}
		}

		rec = c.probe(ctx, target, domain)
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, "cancelled")
			return nil, ctx.Err()
		}
		if c.deps.Throttle != nil {
			c.deps.Throttle.RecordChecked(domain)
		}
	}

	if meta.Custom != nil {
		rec.Custom = meta.Custom
	}
	span.SetAttributes(attribute.String("link.status", rec.Status.String()))
	c.store(ctx, rawURL, rec)
	return rec, nil
}

func (c *ExternalChecker) cached(ctx context.Context, rawURL string, flags Flags) *models.ResponseRecord {
	expire := c.cfg.CacheExpiresShort
	if flags.Has(Synchronous) {
		expire = c.cfg.CacheExpiresLong
	}
	rec, err := c.deps.Cache.GetResponse(ctx, rawURL, LinkTypeExternal, expire)
	if err != nil {
		c.log.Warn("Result cache lookup failed", logger.String("url", rawURL), logger.Error(err))
		return nil
	}
	metrics.RecordCacheLookup(rec != nil)
	if rec == nil {
		return nil
	}
	if flags.Has(NoCacheOnError) && rec.IsError() {
		return nil
	}
	return rec
}

func (c *ExternalChecker) store(ctx context.Context, rawURL string, rec *models.ResponseRecord) {
	if c.deps.Cache == nil {
		return
	}
	if err := c.deps.Cache.SetResult(ctx, rawURL, LinkTypeExternal, rec); err != nil {
		c.log.Warn("Failed to cache check result", logger.String("url", rawURL), logger.Error(err))
	}
}

// probe runs HEAD, then GET unless HEAD hit a CDN challenge, and picks the result.
func (c *ExternalChecker) probe(ctx context.Context, target, domain string) *models.ResponseRecord {
	// cookies set by HEAD are replayed on GET
	jar, _ := cookiejar.New(nil)

	head := c.request(ctx, http.MethodHead, target, domain, c.headers, jar)
	if isCDNChallenge(head) {
		return head
	}

	getHeaders := c.headers.Clone()
	getHeaders.Set("Range", rangeHeader)
	get := c.request(ctx, http.MethodGet, target, domain, getHeaders, jar)

	switch {
	case isCDNChallenge(get):
		return get
	case head.IsError() && get.IsError() && c.cfg.DoubleErrorPolicy == config.PreferHead:
		return head
	default:
		return get
	}
}

// request performs one probe and classifies it.
func (c *ExternalChecker) request(ctx context.Context, method, target, domain string, header http.Header, jar http.CookieJar) *models.ResponseRecord {
	ctx, span := c.tracer.Start(ctx, "checker.probe", trace.WithAttributes(attribute.String("http.method", method)))
	defer span.End()

	var redirects []models.Redirect
	resp, err := c.deps.Transport.Do(ctx, ProbeRequest{
		Method: method,
		URL:    target,
		Header: header,
		Jar:    jar,
		OnRedirect: func(from, to string) {
			redirects = append(redirects, models.Redirect{From: from, To: to})
		},
	})
	now := c.now()

	var rec *models.ResponseRecord
	var respHeader http.Header
	if err != nil {
		kind, code, detail := classifyTransportError(err)
		rec = models.NewErrorRecord(kind, code, detail, now)
		metrics.RecordProbe(method, kind)
		span.SetStatus(codes.Error, err.Error())
		c.log.Debug("Probe failed",
			logger.String("method", method),
			logger.String("url", target),
			logger.String("error_kind", kind),
			logger.Error(err),
		)
	} else {
		respHeader = resp.Header
		rec = classifyResponse(resp.StatusCode, resp.Header, now)
		metrics.RecordProbe(method, statusClass(resp.StatusCode))
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	}

	rec.Redirects = redirects
	rec.FinalURL = target
	if resp != nil && resp.FinalURL != "" {
		rec.FinalURL = resp.FinalURL
	} else if n := len(redirects); n > 0 {
		rec.FinalURL = redirects[n-1].To
	}

	if method != http.MethodGet || isCDNChallenge(rec) {
		return rec
	}

	if rec.ErrorKind != "" && c.nonCheckable.Match(rec.CombinedError(true)) {
		rec.Status = models.StatusCannotCheck
		if hasCFHeader(respHeader) {
			rec.CannotCheckReason = models.ReasonCloudflare
		}
	}

	if rec.ErrorKind == models.ErrorKindHTTPStatus && (rec.ErrorCode == http.StatusTooManyRequests || rec.ErrorCode == http.StatusServiceUnavailable) {
		reason := models.ReasonServiceUnavailable
		if rec.ErrorCode == http.StatusTooManyRequests {
			reason = models.ReasonTooManyRequests
		}
		resumeAt := retryAfter(respHeader, now)
		suspendDomain := domain
		if d := hostOf(rec.EffectiveURL()); d != "" {
			suspendDomain = d
		}
		c.log.Info("Rate limited, suspending domain",
			logger.String("url", target),
			logger.String("domain", suspendDomain),
			logger.Int("status", rec.ErrorCode),
			logger.Time("resume_at", resumeAt),
		)
		if c.deps.Throttle != nil {
			c.deps.Throttle.Suspend(ctx, suspendDomain, resumeAt, reason)
		}
		rec.Status = models.StatusCannotCheck
		rec.CannotCheckReason = reason
	}
	return rec
}

// classifyResponse turns a status and headers into a record. A CDN Server
// header wins; the CDN's own failures are kept as error detail except 403,
// which is its usual challenge status.
func classifyResponse(status int, h http.Header, now time.Time) *models.ResponseRecord {
	if isCDNServer(h) {
		rec := &models.ResponseRecord{
			Status:            models.StatusUnknown,
			LastChecked:       time.Unix(now.Unix(), 0),
			CannotCheckReason: models.ReasonCloudflare,
		}
		if status >= 500 || (status >= 400 && status != http.StatusForbidden) {
			rec.SetError(models.ErrorKindHTTPStatus, status, "")
		}
		return rec
	}
	if status >= 300 {
		return models.NewErrorRecord(models.ErrorKindHTTPStatus, status, "", now)
	}
	return models.NewOKRecord(now)
}

func isCDNServer(h http.Header) bool {
	return strings.Contains(strings.ToLower(h.Get("Server")), "cloudflare")
}

func isCDNChallenge(rec *models.ResponseRecord) bool {
	return rec.Status == models.StatusUnknown && rec.CannotCheckReason == models.ReasonCloudflare
}

func hasCFHeader(h http.Header) bool {
	for k := range h {
		if strings.HasPrefix(strings.ToLower(k), "cf-") {
			return true
		}
	}
	return false
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

// preprocessURL decodes HTML entities and converts an internationalised host
// to its ASCII form. It returns the URL to request and its throttle domain.
func preprocessURL(raw string) (target, domain string, err error) {
	decoded := strings.TrimSpace(html.UnescapeString(raw))
	if decoded == "" {
		return "", "", errEmptyURL
	}
	u, err := url.Parse(decoded)
	if err != nil {
		return "", "", err
	}
	host := u.Hostname()
	if host == "" {
		return "", "", errNoHost
	}

	if net.ParseIP(host) == nil && !isASCII(host) {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return "", "", err
		}
		if port := u.Port(); port != "" {
			u.Host = net.JoinHostPort(ascii, port)
		} else {
			u.Host = ascii
		}
		host = ascii
	}
	return u.String(), strings.ToLower(host), nil
}

func hostOf(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

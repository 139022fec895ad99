package checker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// maxBodyBytes bounds how much of a response body is read before closing it.
const maxBodyBytes = 4096

var (
	// ErrTooManyRedirects is returned when a probe exceeds the redirect limit.
	ErrTooManyRedirects = errors.New("too many redirects")
	// ErrInvalidURL is returned for targets that cannot be requested at all.
	ErrInvalidURL = errors.New("invalid URL")
)

// ProbeRequest describes one HTTP probe.
type ProbeRequest struct {
	Method string
	URL    string
	Header http.Header
	// Jar is shared by the probes of a single check.
	Jar http.CookieJar
	// OnRedirect is called for every redirect that is followed.
	OnRedirect func(from, to string)
}

// ProbeResponse is what a probe observed. The body is never returned.
type ProbeResponse struct {
	StatusCode int
	Header     http.Header
	FinalURL   string
}

// Transport performs probes. Non-2xx statuses are responses, not errors.
type Transport interface {
	Do(ctx context.Context, req ProbeRequest) (*ProbeResponse, error)
}

// TransportConfig holds the connection settings of an HTTPTransport.
type TransportConfig struct {
	Timeout        time.Duration
	ConnectTimeout time.Duration
	SSLVerifyPeer  bool
	MaxRedirects   int
	// MaxRequestsPerSecond caps probes across all domains; 0 disables the cap.
	MaxRequestsPerSecond float64
}

// HTTPTransport is the net/http implementation of Transport.
type HTTPTransport struct {
	base         *http.Transport
	timeout      time.Duration
	maxRedirects int
	limiter      *rate.Limiter
}

// NewHTTPTransport builds a transport whose connections are shared by all probes.
func NewHTTPTransport(cfg TransportConfig) *HTTPTransport {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
	base := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !cfg.SSLVerifyPeer, //nolint:gosec // operator opt-out
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
	}

	t := &HTTPTransport{
		base:         base,
		timeout:      cfg.Timeout,
		maxRedirects: cfg.MaxRedirects,
	}
	if cfg.MaxRequestsPerSecond > 0 {
		burst := int(cfg.MaxRequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), burst)
	}
	return t
}

// Do sends the probe, following redirects up to the configured limit.
func (t *HTTPTransport) Do(ctx context.Context, pr ProbeRequest) (*ProbeResponse, error) {
	u, err := url.Parse(pr.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if scheme := strings.ToLower(u.Scheme); (scheme != "http" && scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, pr.URL)
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, pr.Method, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	for k, vs := range pr.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	client := &http.Client{
		Transport: t.base,
		Jar:       pr.Jar,
		Timeout:   t.timeout,
		CheckRedirect: func(next *http.Request, via []*http.Request) error {
			if len(via) > t.maxRedirects {
				return ErrTooManyRedirects
			}
			if pr.OnRedirect != nil {
				pr.OnRedirect(via[len(via)-1].URL.String(), next.URL.String())
			}
			return nil
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	return &ProbeResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		FinalURL:   resp.Request.URL.String(),
	}, nil
}

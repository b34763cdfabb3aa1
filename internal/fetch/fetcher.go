// Package fetch provides the single shared HTTP client for all outbound
// pipeline traffic.
//
// The client retries network errors and 5xx responses with exponential
// backoff; any response below 500 is terminal. Every physical attempt,
// including retries and redirect hops, passes through a transport that
// blocks on the per-domain rate limiter, so politeness guarantees hold no
// matter how a request is composed.
//
// TLS verification is relaxed by default: many of the small institutional
// sites this pipeline ingests run self-signed or misconfigured
// certificates, and the ingestion path treats page content as untrusted
// input anyway. This is a documented risk, controlled by the RELAXED_TLS
// flag, and must stay off for any future operation that needs integrity.
package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/scholargrid/harvester/internal/metrics"
	"github.com/scholargrid/harvester/internal/ratelimit"
)

// Defaults for the shared client.
const (
	DefaultConnectTimeout = 15 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultMaxRedirects   = 5
	DefaultRetryWaitMin   = 2 * time.Second
	DefaultRetryWaitMax   = 10 * time.Second
	DefaultMaxAttempts    = 3
	DefaultMaxBodyBytes   = 2 << 20 // 2 MiB
)

var errTooManyRedirects = errors.New("redirect limit exceeded")

// Config tunes the fetcher. Zero values fall back to the defaults above.
type Config struct {
	ConnectTimeout time.Duration // dial, TLS handshake, response header budget
	RequestTimeout time.Duration // total budget per Get/Head call
	MaxRedirects   int
	MaxAttempts    int // total attempts including the first
	RetryWaitMin   time.Duration
	RetryWaitMax   time.Duration
	RelaxedTLS     bool
	UserAgents     []string
	MaxBodyBytes   int64
}

func (c *Config) fillDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.MaxRedirects == 0 {
		c.MaxRedirects = DefaultMaxRedirects
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryWaitMin == 0 {
		c.RetryWaitMin = DefaultRetryWaitMin
	}
	if c.RetryWaitMax == 0 {
		c.RetryWaitMax = DefaultRetryWaitMax
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if len(c.UserAgents) == 0 {
		c.UserAgents = []string{"scholargrid-harvester/1.0"}
	}
}

// Result is the outcome of one fetch.
type Result struct {
	Status   int
	FinalURL string // post-redirect URL
	Header   http.Header
	Body     []byte
	Elapsed  time.Duration
}

// Fetcher is the process-wide HTTP client. Safe for concurrent use.
type Fetcher struct {
	client         *retryablehttp.Client
	userAgents     []string
	uaCursor       atomic.Uint64
	requestTimeout time.Duration
	maxBodyBytes   int64
}

// New builds the shared fetcher on top of the given rate limiter. The
// limiter is mandatory: it is the only politeness gate between the pipeline
// and upstream sites.
func New(cfg Config, limiter *ratelimit.Limiter) *Fetcher {
	cfg.fillDefaults()

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ConnectTimeout,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: cfg.RelaxedTLS},
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	maxRedirects := cfg.MaxRedirects
	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{
		Transport: &pacedTransport{next: transport, limiter: limiter},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errTooManyRedirects
			}
			return nil
		},
	}
	rc.RetryMax = cfg.MaxAttempts - 1
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.Logger = slog.Default()
	rc.CheckRetry = checkRetry

	return &Fetcher{
		client:         rc,
		userAgents:     cfg.UserAgents,
		requestTimeout: cfg.RequestTimeout,
		maxBodyBytes:   cfg.MaxBodyBytes,
	}
}

// checkRetry retries network errors and 5xx responses only. Redirect-cap
// errors and any status below 500 are terminal.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		if errors.Is(err, errTooManyRedirects) {
			return false, err
		}
		return true, nil
	}
	return resp.StatusCode >= http.StatusInternalServerError, nil
}

// Head performs a cheap liveness probe.
func (f *Fetcher) Head(ctx context.Context, url string) (*Result, error) {
	return f.do(ctx, http.MethodHead, url)
}

// Get fetches the full content of url.
func (f *Fetcher) Get(ctx context.Context, url string) (*Result, error) {
	return f.do(ctx, http.MethodGet, url)
}

func (f *Fetcher) do(ctx context.Context, method, url string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, f.requestTimeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", url, err)
	}
	f.decorate(req)

	start := time.Now()
	resp, err := f.client.Do(req)
	metrics.FetchDuration.WithLabelValues(req.URL.Hostname()).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", url, err)
	}

	finalURL := url
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Result{
		Status:   resp.StatusCode,
		FinalURL: finalURL,
		Header:   resp.Header,
		Body:     body,
		Elapsed:  time.Since(start),
	}, nil
}

// decorate applies browser-like headers and rotates the user agent.
func (f *Fetcher) decorate(req *retryablehttp.Request) {
	idx := f.uaCursor.Add(1)
	req.Header.Set("User-Agent", f.userAgents[int(idx-1)%len(f.userAgents)])
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-IN,en;q=0.9,hi;q=0.8")
}

// pacedTransport blocks each physical attempt on the per-domain rate
// limiter. The in-flight slot is held until the response body is closed.
type pacedTransport struct {
	next    http.RoundTripper
	limiter *ratelimit.Limiter
}

func (t *pacedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	release, err := t.limiter.Acquire(req.Context(), req.URL.Hostname())
	if err != nil {
		return nil, err
	}
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		release()
		return nil, err
	}
	resp.Body = &releaseOnClose{ReadCloser: resp.Body, release: release}
	return resp, nil
}

type releaseOnClose struct {
	io.ReadCloser
	release func()
}

func (r *releaseOnClose) Close() error {
	r.release()
	return r.ReadCloser.Close()
}

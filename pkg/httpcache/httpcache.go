package httpcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/codeGROOVE-dev/biolink/pkg/link"
	"github.com/codeGROOVE-dev/biolink/pkg/platform"
)

// UserAgent is the default browser User-Agent string.
const UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:146.0) Gecko/20100101 Firefox/146.0"

// Defaults for Request fields left zero.
const (
	DefaultTimeout  = 10 * time.Second
	DefaultMaxBytes = 2 << 20
	DefaultRetries  = 2
	maxRedirects    = 5
)

const opFetch = "fetch"

// HTTPError represents a non-2xx HTTP response.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d fetching %s", e.StatusCode, e.URL)
}

// Request describes one fetch.
type Request struct {
	URL string
	// AllowedHosts is checked before any network call and on every redirect.
	AllowedHosts []string
	Timeout      time.Duration
	MaxBytes     int64
	Retries      int
}

// Response is a fetched document.
type Response struct {
	FetchedAt  time.Time
	URL        string
	FinalURL   string
	Body       []byte
	StatusCode int
	Cached     bool
}

// Observer receives fetch measurements. metrics.Metrics implements it.
type Observer interface {
	ObserveFetch(host string, d time.Duration, err error)
	ObserveCache(hit bool)
}

// Fetcher performs allow-listed HTTP GETs.
type Fetcher struct {
	client    *http.Client
	cache     Cacher
	pacer     *hostPacer
	observer  Observer
	logger    *slog.Logger
	userAgent string
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets a logger for the Fetcher.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = logger }
}

// WithHTTPClient sets the underlying client. Its CheckRedirect is replaced.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) { f.client = client }
}

// WithCache enables response caching.
func WithCache(cache Cacher) Option {
	return func(f *Fetcher) { f.cache = cache }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithMinHostDelay spaces requests to the same host by at least d.
func WithMinHostDelay(d time.Duration) Option {
	return func(f *Fetcher) { f.pacer = newHostPacer(d) }
}

// WithObserver reports fetch timings and cache results to o.
func WithObserver(o Observer) Option {
	return func(f *Fetcher) { f.observer = o }
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		logger:    slog.Default(),
		userAgent: UserAgent,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = &http.Client{}
	}
	return f
}

// Fetch GETs req.URL. Validation failures, 404/410 and oversized bodies are
// fatal; network errors, timeouts and other statuses are transient.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Response, error) {
	if req.Timeout <= 0 {
		req.Timeout = DefaultTimeout
	}
	if req.MaxBytes <= 0 {
		req.MaxBytes = DefaultMaxBytes
	}
	if req.Retries < 0 {
		req.Retries = 0
	}

	u, err := ValidateURL(req.URL, req.AllowedHosts)
	if err != nil {
		return nil, err
	}

	if f.cache == nil {
		return f.fetchWithRetry(ctx, u, req)
	}

	var fresh *Response
	key := URLToKey(u.String())
	body, err := f.cache.GetSet(ctx, key, func(ctx context.Context) ([]byte, error) {
		resp, err := f.fetchWithRetry(ctx, u, req)
		if err != nil {
			return nil, err
		}
		fresh = resp
		return resp.Body, nil
	}, f.cache.TTL())
	if err != nil {
		var le *link.Error
		if errors.As(err, &le) {
			return nil, le
		}
		return nil, link.Transient(opFetch, link.CodeNetwork, err)
	}

	if fresh != nil {
		f.observeCache(false)
		return fresh, nil
	}
	f.observeCache(true)
	f.logger.DebugContext(ctx, "cache hit", "url", u.String())
	return &Response{
		URL:        req.URL,
		FinalURL:   u.String(),
		StatusCode: http.StatusOK,
		Body:       body,
		FetchedAt:  time.Now(),
		Cached:     true,
	}, nil
}

func (f *Fetcher) observeCache(hit bool) {
	if f.observer != nil {
		f.observer.ObserveCache(hit)
	}
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, u *url.URL, req Request) (*Response, error) {
	start := time.Now()
	resp, err := retry.DoWithData(
		func() (*Response, error) {
			return f.doFetch(ctx, u, req)
		},
		retry.Context(ctx),
		retry.Attempts(uint(req.Retries)+1), //nolint:gosec // non-negative
		retry.Delay(200*time.Millisecond),
		retry.MaxJitter(100*time.Millisecond),
		retry.RetryIf(isRetryableError),
		retry.OnRetry(func(n uint, err error) {
			f.logger.DebugContext(ctx, "retrying HTTP request", "attempt", n+1, "url", u.String(), "error", err)
		}),
	)
	if f.observer != nil {
		f.observer.ObserveFetch(u.Hostname(), time.Since(start), err)
	}
	if err != nil {
		var le *link.Error
		if errors.As(err, &le) {
			return nil, le
		}
		if ctx.Err() != nil {
			return nil, link.Transient(opFetch, link.CodeTimeout, ctx.Err())
		}
		return nil, link.Transient(opFetch, link.CodeNetwork, err)
	}
	return resp, nil
}

func (f *Fetcher) doFetch(ctx context.Context, u *url.URL, req Request) (*Response, error) {
	if err := f.pacer.Wait(ctx, u.Hostname(), f.logger); err != nil {
		return nil, link.Transient(opFetch, link.CodeTimeout, err)
	}

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, link.InvalidURL(opFetch, u.String(), err)
	}
	httpReq.Header.Set("User-Agent", f.userAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	client := *f.client
	client.CheckRedirect = func(next *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return link.Fatal(opFetch, link.CodeInvalidURL, errors.New("too many redirects"))
		}
		if _, err := ValidateURL(next.URL.String(), req.AllowedHosts); err != nil {
			return err
		}
		return nil
	}

	f.logger.DebugContext(ctx, "fetching", "url", u.String())
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close() //nolint:errcheck // best effort

	final := u.String()
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := &HTTPError{URL: final, StatusCode: resp.StatusCode}
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			return nil, link.Fatal(opFetch, link.CodeNotFound, httpErr)
		}
		return nil, link.Transient(opFetch, link.CodeHTTPStatus, httpErr)
	}

	if resp.ContentLength > req.MaxBytes {
		return nil, link.Fatal(opFetch, link.CodeResponseTooLarge,
			fmt.Errorf("content-length %d exceeds limit %d", resp.ContentLength, req.MaxBytes))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, req.MaxBytes+1))
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if int64(len(body)) > req.MaxBytes {
		return nil, link.Fatal(opFetch, link.CodeResponseTooLarge, fmt.Errorf("body exceeds limit %d", req.MaxBytes))
	}

	return &Response{
		URL:        u.String(),
		FinalURL:   final,
		StatusCode: resp.StatusCode,
		Body:       body,
		FetchedAt:  time.Now(),
	}, nil
}

// classifyTransportError tags errors from client.Do and body reads.
func classifyTransportError(err error) error {
	var le *link.Error
	if errors.As(err, &le) {
		return le
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return link.Transient(opFetch, link.CodeTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return link.Transient(opFetch, link.CodeTimeout, err)
	}
	return link.Transient(opFetch, link.CodeNetwork, err)
}

// isRetryableError returns true for transient errors worth retrying within a fetch.
func isRetryableError(err error) bool {
	if link.KindOf(err) != link.KindTransient {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	}
	return true
}

// ValidateURL parses rawURL and checks its host against allowed. An empty
// allow-list admits nothing.
func ValidateURL(rawURL string, allowed []string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, link.InvalidURL(opFetch, rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, link.InvalidURL(opFetch, rawURL, errors.New("scheme must be http or https"))
	}
	if u.Hostname() == "" {
		return nil, link.InvalidURL(opFetch, rawURL, errors.New("missing host"))
	}
	if u.User != nil {
		return nil, link.InvalidURL(opFetch, rawURL, errors.New("credentials in url"))
	}
	if !platform.IsOwnDomain(u.Hostname(), allowed) {
		return nil, link.InvalidURL(opFetch, rawURL, fmt.Errorf("host %q not allowed", u.Hostname()))
	}
	u.Fragment = ""
	return u, nil
}

package fetcher

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"github.com/sells-group/review-crawler/internal/resilience"
)

// DefaultUserAgent mimics a desktop browser; the review site refuses
// requests that do not look like one.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.11; rv:47.0) Gecko/20100101 Firefox/47.0"

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string

	// Timeout bounds a single request, independently of the retry policy.
	Timeout time.Duration

	// Retry is the backoff policy applied to every fetch.
	Retry resilience.RetryConfig

	// RequestsPerSecond is a fixed ceiling on outbound requests. 0 disables it.
	RequestsPerSecond float64

	// Breakers, when set, short-circuits fetches to hosts that keep failing.
	Breakers *resilience.HostBreakers

	// MaxBodyBytes caps how much of a response body is read. A larger
	// successful response fails with BodyTooLargeError.
	MaxBodyBytes int64

	// OnRetry is called before each backoff sleep.
	OnRetry func(url string, attempt int, delay time.Duration, err error)

	// Client overrides the default HTTP client.
	Client *http.Client
}

// HTTPFetcher implements PageFetcher using net/http with retry, a per-request
// timeout and an optional request-rate ceiling.
type HTTPFetcher struct {
	client  *http.Client
	opts    HTTPOptions
	limiter *rate.Limiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 8 << 20
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &HTTPFetcher{
		client:  client,
		opts:    opts,
		limiter: limiter,
	}
}

// Fetch GETs rawURL, retrying transient failures under the configured
// policy. The configured User-Agent is sent unless header already sets one.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, header http.Header) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		if err == nil {
			err = eris.Errorf("fetch: unsupported url %q", rawURL)
		}
		return nil, &FetchError{URL: rawURL, Err: eris.Wrap(err, "fetch: parse url")}
	}

	log := zap.L().With(zap.String("url", rawURL))

	logRetry := resilience.RetryLogger(log, "fetch")
	policy := f.opts.Retry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		logRetry(attempt, delay, err)
		if f.opts.OnRetry != nil {
			f.opts.OnRetry(rawURL, attempt, delay, err)
		}
	}

	attempts := 0
	page, err := resilience.DoVal(ctx, policy, func(ctx context.Context) (*Page, error) {
		attempts++
		if f.opts.Breakers == nil {
			return f.fetchOnce(ctx, rawURL, header)
		}
		return resilience.ExecuteVal(ctx, f.opts.Breakers.For(rawURL), func(ctx context.Context) (*Page, error) {
			return f.fetchOnce(ctx, rawURL, header)
		})
	})
	if err != nil {
		return nil, &FetchError{URL: rawURL, Attempts: attempts, Err: err}
	}

	page.Attempts = attempts
	log.Debug("fetch: page retrieved",
		zap.Int("status", page.StatusCode),
		zap.Int("attempts", attempts),
		zap.Int("bytes", len(page.Body)),
	)
	return page, nil
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, rawURL string, header http.Header) (*Page, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetch: rate limiter wait")
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: create request")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(err, "fetch: request")
		}
		// Any transport failure, including the per-request deadline, is retryable.
		return nil, resilience.NewTransientError(eris.Wrap(err, "fetch: request"), 0)
	}
	defer func() { _ = resp.Body.Close() }()

	// One byte past the cap tells a body that fits exactly from one that was cut.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "fetch: read body"), resp.StatusCode)
	}
	tooLarge := int64(len(raw)) > f.opts.MaxBodyBytes
	if tooLarge {
		raw = raw[:f.opts.MaxBodyBytes]
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
		if blocked, kind := DetectBlock(resp, raw); blocked {
			return nil, resilience.NewTransientError(eris.Wrapf(statusErr, "fetch: blocked (%s)", kind), resp.StatusCode)
		}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}

	if tooLarge {
		return nil, &BodyTooLargeError{URL: rawURL, Limit: f.opts.MaxBodyBytes}
	}

	if blocked, kind := DetectBlock(resp, raw); blocked {
		return nil, resilience.NewTransientError(eris.Errorf("fetch: blocked (%s) at %s", kind, rawURL), resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	body := decodeBody(raw, contentType)

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Page{
		URL:         rawURL,
		FinalURL:    finalURL,
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        body,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

// decodeBody converts raw to UTF-8 using the declared or sniffed charset.
// On failure the raw bytes are returned unchanged.
func decodeBody(raw []byte, contentType string) []byte {
	r, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err != nil {
		return raw
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return raw
	}
	return decoded
}

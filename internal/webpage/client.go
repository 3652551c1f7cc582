package webpage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Response is a fetched resource. Callers must close Body.
type Response struct {
	Body        io.ReadCloser
	StatusCode  int
	ContentType string
	// URL is the final location after redirects.
	URL string
}

// Fetcher defines how remote pages and images are retrieved.
type Fetcher interface {
	Fetch(ctx context.Context, url, accept string) (*Response, error)
}

// limitedReadCloser reads from a LimitReader but closes the original body.
type limitedReadCloser struct {
	io.Reader
	io.Closer
}

// HTTPClient implements Fetcher using a real HTTP client.
type HTTPClient struct {
	client       *http.Client
	maxBodyBytes int64
}

// ClientOptions tunes NewHTTPClient. Zero values select the defaults.
type ClientOptions struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	// AllowPrivate disables the private/reserved address block. Only for
	// local development and tests.
	AllowPrivate bool
}

const (
	maxRedirects        = 5
	userAgent           = "FakemehBot/1.0 (+image-authenticity-check)"
	defaultFetchTimeout = 10 * time.Second
	defaultMaxBody      = 10 << 20
)

var (
	errTooManyRedirects = errors.New("too many redirects")
	errBlockedRedirect  = errors.New("redirect to non-http(s) scheme blocked")

	// ErrBodyTooLarge is returned by ReadAllLimited when the body exceeds the limit.
	ErrBodyTooLarge = errors.New("response body too large")
)

// NewHTTPClient returns a Fetcher backed by an http.Client with a dedicated
// transport that blocks connections to private/reserved IP ranges, and
// redirect validation that prevents SSRF via redirect chains.
func NewHTTPClient(opts ClientOptions) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultFetchTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	return &HTTPClient{
		maxBodyBytes: opts.MaxBodyBytes,
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				DialContext:         safeDialer(opts.AllowPrivate).DialContext,
				MaxConnsPerHost:     10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
			CheckRedirect: safeRedirectPolicy,
		},
	}
}

// safeRedirectPolicy validates redirect targets and limits the redirect chain length.
func safeRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("%w: stopped after %d", errTooManyRedirects, maxRedirects)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("%w: %s", errBlockedRedirect, req.URL.Scheme)
	}
	return nil
}

// Fetch retrieves the resource at the given URL. The body is capped one byte
// past the configured limit so ReadAllLimited can detect oversized payloads.
func (c *HTTPClient) Fetch(ctx context.Context, targetURL, accept string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.client.Do(req) //nolint:bodyclose // body is returned to caller via limitedReadCloser
	if err != nil {
		return nil, err
	}

	limit := c.maxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBody
	}

	finalURL := targetURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Response{
		Body: &limitedReadCloser{
			Reader: io.LimitReader(resp.Body, limit+1),
			Closer: resp.Body,
		},
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		URL:         finalURL,
	}, nil
}

// MaxBodyBytes reports the configured body limit.
func (c *HTTPClient) MaxBodyBytes() int64 {
	return c.maxBodyBytes
}

// ReadAllLimited reads r fully, failing with ErrBodyTooLarge if it yields
// more than limit bytes.
func ReadAllLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, limit)
	}
	return data, nil
}

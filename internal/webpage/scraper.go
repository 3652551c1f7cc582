package webpage

import (
	"context"
	"errors"
	"mime"
	"net/url"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/fakemeh/fakemeh-api/internal/platform/errs"
)

const acceptHTML = "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5"

// ErrNotHTML is the cause attached when a scraped URL is not an HTML page.
var ErrNotHTML = errors.New("response is not an HTML document")

// Scraper fetches a page and extracts its claim-relevant text.
type Scraper struct {
	fetcher Fetcher
}

// NewScraper returns a Scraper backed by the given Fetcher.
func NewScraper(fetcher Fetcher) *Scraper {
	return &Scraper{fetcher: fetcher}
}

// Scrape fetches targetURL and parses it as HTML. Errors are *errs.AppError.
func (s *Scraper) Scrape(ctx context.Context, targetURL string) (*Page, error) {
	parsed, err := ValidateURL(targetURL)
	if err != nil {
		return nil, err
	}

	resp, err := s.fetcher.Fetch(ctx, targetURL, acceptHTML)
	if err != nil {
		return nil, &errs.AppError{
			Kind:    errs.Unreachable,
			Message: "The provided URL could not be reached. Check the address.",
			Cause:   err,
		}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, &errs.AppError{
			Kind:           errs.Unreachable,
			UpstreamStatus: resp.StatusCode,
			Message:        "The provided URL returned an error status.",
		}
	}

	if !IsHTML(resp.ContentType) {
		return nil, &errs.AppError{
			Kind:    errs.ParsingFailed,
			Message: "The provided URL is not an HTML page.",
			Cause:   ErrNotHTML,
		}
	}

	body, err := charset.NewReader(resp.Body, resp.ContentType)
	if err != nil {
		return nil, &errs.AppError{
			Kind:    errs.ParsingFailed,
			Message: "Unsupported page encoding.",
			Cause:   err,
		}
	}

	if final, err := url.Parse(resp.URL); err == nil && final.Host != "" {
		parsed = final
	}

	page, err := Parse(body, parsed)
	if err != nil {
		return nil, &errs.AppError{
			Kind:    errs.ParsingFailed,
			Message: "Failed to parse the HTML content.",
			Cause:   err,
		}
	}
	return page, nil
}

// ValidateURL accepts only absolute http(s) URLs.
func ValidateURL(targetURL string) (*url.URL, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return nil, &errs.AppError{
			Kind:    errs.InvalidInput,
			Message: "Invalid URL format. Please ensure you entered a valid URL (e.g., https://example.com).",
			Cause:   err,
		}
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, &errs.AppError{
			Kind:    errs.InvalidInput,
			Message: "Invalid URL format. Please ensure you entered a valid URL (e.g., https://example.com).",
		}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, &errs.AppError{
			Kind:    errs.InvalidInput,
			Message: "Only http and https URLs are supported.",
		}
	}
	return parsed, nil
}

// IsHTML reports whether a Content-Type header denotes an HTML document.
// A missing header is treated as HTML.
func IsHTML(contentType string) bool {
	if strings.TrimSpace(contentType) == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

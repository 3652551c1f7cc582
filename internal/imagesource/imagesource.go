// Package imagesource turns an upload or a user-supplied URL into image bytes.
package imagesource

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/fakemeh/fakemeh-api/internal/model"
	"github.com/fakemeh/fakemeh-api/internal/platform/errs"
	"github.com/fakemeh/fakemeh-api/internal/webpage"
)

const acceptImage = "image/*,text/html;q=0.8,*/*;q=0.5"

// DefaultMaxBytes bounds upload and download sizes when no limit is configured.
const DefaultMaxBytes = 10 << 20

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// Source is an acquired image. Bytes must not be modified once returned.
type Source struct {
	Bytes    []byte
	Filename string
	// URL is the address the caller submitted.
	URL string
	// PageURL is the final URL of the page when URL pointed at HTML,
	// otherwise the final URL of the image itself.
	PageURL string
	// ImageURL is set when the image was found through a page's preview meta.
	ImageURL string
}

// Info summarizes the source for the analysis result.
func (s *Source) Info() model.SourceInfo {
	info := model.SourceInfo{
		Filename: s.Filename,
		URL:      s.URL,
		ImageURL: s.ImageURL,
		Bytes:    len(s.Bytes),
	}
	if s.URL != "" {
		info.Kind = "url"
	} else {
		info.Kind = "upload"
	}
	return info
}

// ValidateFilename accepts .jpg, .jpeg and .png names, ignoring case.
func ValidateFilename(name string) error {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if !allowedExtensions[ext] {
		return errs.Invalid("Unsupported image format", nil)
	}
	return nil
}

// FromUpload validates the filename and reads at most maxBytes from r.
func FromUpload(filename string, r io.Reader, maxBytes int64) (*Source, error) {
	if err := ValidateFilename(filename); err != nil {
		return nil, err
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	data, err := webpage.ReadAllLimited(r, maxBytes)
	if err != nil {
		if errors.Is(err, webpage.ErrBodyTooLarge) {
			return nil, errs.Invalid("Image exceeds the maximum upload size", err)
		}
		return nil, errs.Invalid("Could not read the uploaded image", err)
	}
	if len(data) == 0 {
		return nil, errs.Invalid("Uploaded image is empty", nil)
	}

	return &Source{Bytes: data, Filename: filepath.Base(filename)}, nil
}

// Loader downloads images from user-supplied URLs.
type Loader struct {
	fetcher  webpage.Fetcher
	maxBytes int64
}

// NewLoader returns a Loader that reads at most maxBytes per download.
func NewLoader(fetcher webpage.Fetcher, maxBytes int64) *Loader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Loader{fetcher: fetcher, maxBytes: maxBytes}
}

// FromURL downloads the image at rawURL. When the URL serves an HTML page,
// its og:image (or twitter:image) is fetched instead, once.
func (l *Loader) FromURL(ctx context.Context, rawURL string) (*Source, error) {
	if _, err := webpage.ValidateURL(rawURL); err != nil {
		return nil, err
	}

	data, contentType, finalURL, err := l.download(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	src := &Source{URL: rawURL, PageURL: finalURL}

	if isHTMLPayload(contentType, data) {
		base, err := url.Parse(finalURL)
		if err != nil {
			return nil, errs.Invalid("Could not fetch image from URL", err)
		}
		page, err := webpage.Parse(bytes.NewReader(data), base)
		if err != nil || page.ImageURL == "" {
			return nil, errs.Invalid("No image found at the provided URL", err)
		}

		data, contentType, _, err = l.download(ctx, page.ImageURL)
		if err != nil {
			return nil, err
		}
		if isHTMLPayload(contentType, data) {
			return nil, errs.Invalid("No image found at the provided URL", nil)
		}
		src.ImageURL = page.ImageURL
	}

	if len(data) == 0 {
		return nil, errs.Invalid("The provided URL returned an empty image", nil)
	}
	src.Bytes = data
	return src, nil
}

func (l *Loader) download(ctx context.Context, target string) ([]byte, string, string, error) {
	resp, err := l.fetcher.Fetch(ctx, target, acceptImage)
	if err != nil {
		return nil, "", "", errs.Invalid("Could not fetch image from URL", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, "", "", &errs.AppError{
			Kind:           errs.InvalidInput,
			UpstreamStatus: resp.StatusCode,
			Message:        "Could not fetch image from URL",
		}
	}

	data, err := webpage.ReadAllLimited(resp.Body, l.maxBytes)
	if err != nil {
		if errors.Is(err, webpage.ErrBodyTooLarge) {
			return nil, "", "", errs.Invalid("Image at the provided URL is too large", err)
		}
		return nil, "", "", errs.Invalid("Could not fetch image from URL", err)
	}
	return data, resp.ContentType, resp.URL, nil
}

// isHTMLPayload sniffs the body when the server sent no Content-Type.
func isHTMLPayload(contentType string, data []byte) bool {
	if strings.TrimSpace(contentType) == "" {
		if len(data) == 0 {
			return false
		}
		contentType = http.DetectContentType(data)
	}
	return webpage.IsHTML(contentType)
}

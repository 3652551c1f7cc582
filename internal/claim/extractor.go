// Package claim extracts the textual claim carried by an image: text
// recognized inside it plus, when the image came from a web page, that
// page's description.
package claim

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"strings"

	"github.com/fakemeh/fakemeh-api/internal/imaging"
	"github.com/fakemeh/fakemeh-api/internal/model"
	"github.com/fakemeh/fakemeh-api/internal/platform/requestid"
	"github.com/fakemeh/fakemeh-api/internal/webpage"
)

// TextRecognizer reads text out of an image.
type TextRecognizer interface {
	Recognize(ctx context.Context, img image.Image) (string, error)
}

// PageScraper fetches and parses an HTML page.
type PageScraper interface {
	Scrape(ctx context.Context, url string) (*webpage.Page, error)
}

// Extractor combines OCR and page text into a single claim.
type Extractor struct {
	ocr     TextRecognizer
	scraper PageScraper
	logger  *slog.Logger
}

// NewExtractor returns an Extractor. scraper may be nil, in which case page
// text is never consulted.
func NewExtractor(ocr TextRecognizer, scraper PageScraper, logger *slog.Logger) *Extractor {
	return &Extractor{ocr: ocr, scraper: scraper, logger: logger}
}

// Extract never fails: anything that goes wrong degrades to less text, and
// no text at all yields model.NoClaim.
func (e *Extractor) Extract(ctx context.Context, data []byte, sourceURL string) string {
	logger := e.logger.With(requestid.Attr(ctx))

	img, _, err := imaging.Decode(data)
	if err != nil {
		logger.Warn("claim extraction: image not decodable", "error", err)
		return model.NoClaim
	}

	var parts []string

	text, err := e.ocr.Recognize(ctx, img)
	switch {
	case err != nil:
		logger.Warn("claim extraction: text recognition failed", "error", err)
	case strings.TrimSpace(text) != "":
		parts = append(parts, strings.TrimSpace(text))
	}

	if sourceURL != "" && e.scraper != nil {
		if pageText := e.pageText(ctx, logger, sourceURL); pageText != "" {
			parts = append(parts, pageText)
		}
	}

	if len(parts) == 0 {
		return model.NoClaim
	}
	return strings.Join(parts, " ")
}

func (e *Extractor) pageText(ctx context.Context, logger *slog.Logger, sourceURL string) string {
	page, err := e.scraper.Scrape(ctx, sourceURL)
	if err != nil {
		if errors.Is(err, webpage.ErrNotHTML) {
			logger.Debug("claim extraction: source is not a page", "url", sourceURL)
		} else {
			logger.Warn("claim extraction: page scrape failed", "url", sourceURL, "error", err)
		}
		return ""
	}
	return strings.TrimSpace(page.ClaimText())
}

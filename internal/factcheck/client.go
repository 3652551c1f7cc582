// Package factcheck looks claims up in the Google Fact Check Tools API.
package factcheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fakemeh/fakemeh-api/internal/model"
	"github.com/fakemeh/fakemeh-api/internal/platform/config"
	"github.com/fakemeh/fakemeh-api/internal/platform/errs"
	"github.com/fakemeh/fakemeh-api/internal/platform/requestid"
)

const (
	defaultPageSize = 10
	defaultTimeout  = 8 * time.Second
	maxResponseBody = 2 << 20
	maxQueryRunes   = 500
)

var errDisabled = errors.New("fact checking is not configured")

// Client calls the claims:search endpoint.
type Client struct {
	endpoint     string
	apiKey       string
	languageCode string
	pageSize     int
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewClient constructs a Client from configuration.
func NewClient(cfg config.FactCheckConfig, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		endpoint:     cfg.URL,
		apiKey:       cfg.APIKey,
		languageCode: cfg.LanguageCode,
		pageSize:     defaultPageSize,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger,
	}
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

type searchResponse struct {
	Claims []struct {
		Text        string `json:"text"`
		Claimant    string `json:"claimant"`
		ClaimReview []struct {
			Publisher struct {
				Name string `json:"name"`
				Site string `json:"site"`
			} `json:"publisher"`
			URL           string `json:"url"`
			Title         string `json:"title"`
			ReviewDate    string `json:"reviewDate"`
			TextualRating string `json:"textualRating"`
		} `json:"claimReview"`
	} `json:"claims"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Search looks up query and flattens every review of every matching claim.
// A query with no matches yields an ok report with no claims.
func (c *Client) Search(ctx context.Context, query string) (*model.FactCheckReport, error) {
	if !c.Enabled() {
		return nil, errDisabled
	}

	req, err := c.newRequest(ctx, query)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fact check request: %w", errs.RedactURL(err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read fact check response: %w", err)
	}

	var parsed searchResponse
	decodeErr := json.Unmarshal(body, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if decodeErr == nil && parsed.Error != nil && parsed.Error.Message != "" {
			return nil, fmt.Errorf("fact check status %d: %s", resp.StatusCode, parsed.Error.Message)
		}
		return nil, fmt.Errorf("fact check status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode fact check response: %w", decodeErr)
	}

	report := &model.FactCheckReport{
		Status: model.FactCheckOK,
		Query:  query,
		Claims: []model.ClaimReview{},
	}
	for _, claim := range parsed.Claims {
		for _, review := range claim.ClaimReview {
			publisher := review.Publisher.Name
			if publisher == "" {
				publisher = review.Publisher.Site
			}
			report.Claims = append(report.Claims, model.ClaimReview{
				Text:       claim.Text,
				Claimant:   claim.Claimant,
				Rating:     review.TextualRating,
				Publisher:  publisher,
				URL:        review.URL,
				ReviewDate: review.ReviewDate,
			})
		}
	}

	c.logger.Debug("fact check complete",
		requestid.Attr(ctx),
		"matches", len(report.Claims),
	)
	return report, nil
}

func (c *Client) newRequest(ctx context.Context, query string) (*http.Request, error) {
	endpoint, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse fact check endpoint: %w", err)
	}

	q := endpoint.Query()
	q.Set("query", truncate(query, maxQueryRunes))
	q.Set("key", c.apiKey)
	if c.languageCode != "" {
		q.Set("languageCode", c.languageCode)
	}
	q.Set("pageSize", strconv.Itoa(c.pageSize))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build fact check request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// Disabled is the report used when no API key is configured.
func Disabled(query string) model.FactCheckReport {
	return model.FactCheckReport{
		Status: model.FactCheckDisabled,
		Query:  query,
		Claims: []model.ClaimReview{},
	}
}

// Unavailable is the report used when the lookup failed. The error text is
// returned to API callers, so request URLs in it are stripped of their query.
func Unavailable(query string, err error) model.FactCheckReport {
	report := model.FactCheckReport{
		Status: model.FactCheckUnavailable,
		Query:  query,
		Claims: []model.ClaimReview{},
	}
	if err != nil {
		report.Error = "Google Fact-Check API failed: " + errs.RedactURL(err).Error()
	}
	return report
}

// truncate keeps long OCR dumps within what the API accepts in a query.
func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes])
}

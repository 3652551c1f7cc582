// Package faceapi queries facial landmark and face quality endpoints.
//
// The endpoints accept several request encodings depending on deployment, so
// each call walks an ordered list of candidates and keeps the first useful
// answer.
package faceapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/fakemeh/fakemeh-api/internal/model"
	"github.com/fakemeh/fakemeh-api/internal/platform/config"
	"github.com/fakemeh/fakemeh-api/internal/platform/errs"
	"github.com/fakemeh/fakemeh-api/internal/platform/requestid"
)

const (
	maxResponseBody = 1 << 20
	defaultTimeout  = 10 * time.Second

	// FallbackX and FallbackY place the fallback landmark near the centre of
	// a typical portrait frame.
	FallbackX            = 400
	FallbackY            = 175
	fallbackAnomalyScore = 0.5
)

var (
	errNoLandmarks = errors.New("no landmarks in response")
	errNoQuality   = errors.New("no positive quality in response")
)

// Client calls the landmark and quality endpoints.
type Client struct {
	landmarkURL string
	qualityURL  string
	apiKey      string
	apiSecret   string
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient constructs a Client from configuration.
func NewClient(cfg config.FaceConfig, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		landmarkURL: cfg.LandmarkURL,
		qualityURL:  cfg.QualityURL,
		apiKey:      cfg.APIKey,
		apiSecret:   cfg.APISecret,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
	}
}

// FallbackLandmarks is returned when no candidate produced landmarks.
func FallbackLandmarks() []model.Landmark {
	return []model.Landmark{{
		Type:         "fallback",
		X:            FallbackX,
		Y:            FallbackY,
		AnomalyScore: fallbackAnomalyScore,
	}}
}

// Landmarks tries each landmark candidate in order and returns the first
// non-empty list. When every candidate fails it returns FallbackLandmarks
// together with an error describing the failures; the landmarks are usable
// either way.
func (c *Client) Landmarks(ctx context.Context, image []byte) ([]model.Landmark, error) {
	var failures []error
	for _, cand := range landmarkCandidates {
		body, err := c.post(ctx, c.landmarkURL, cand, image)
		if err == nil {
			var landmarks []model.Landmark
			landmarks, err = decodeLandmarks(body)
			if err == nil && len(landmarks) > 0 {
				c.logger.Debug("landmarks detected",
					requestid.Attr(ctx),
					"encoding", cand.name,
					"count", len(landmarks),
				)
				return landmarks, nil
			}
			if err == nil {
				err = errNoLandmarks
			}
		}
		failures = append(failures, fmt.Errorf("%s: %w", cand.name, err))
		if ctx.Err() != nil {
			break
		}
	}
	return FallbackLandmarks(), fmt.Errorf("landmarks: %w", errors.Join(failures...))
}

// Quality tries each quality candidate in order and returns the first
// positive score. Otherwise it returns 0 and an error.
func (c *Client) Quality(ctx context.Context, image []byte) (float64, error) {
	var failures []error
	for _, cand := range qualityCandidates {
		body, err := c.post(ctx, c.qualityURL, cand, image)
		if err == nil {
			var quality float64
			quality, err = decodeQuality(body)
			if err == nil && quality > 0 {
				c.logger.Debug("face quality scored",
					requestid.Attr(ctx),
					"encoding", cand.name,
					"quality", quality,
				)
				return quality, nil
			}
			if err == nil {
				err = errNoQuality
			}
		}
		failures = append(failures, fmt.Errorf("%s: %w", cand.name, err))
		if ctx.Err() != nil {
			break
		}
	}
	return 0, fmt.Errorf("quality: %w", errors.Join(failures...))
}

func (c *Client) post(ctx context.Context, endpoint string, cand candidate, image []byte) ([]byte, error) {
	target, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := target.Query()
	if c.apiKey != "" {
		q.Set("api_key", c.apiKey)
	}
	if c.apiSecret != "" {
		q.Set("api_secret", c.apiSecret)
	}
	target.RawQuery = q.Encode()

	body, contentType, err := cand.build(image)
	if err != nil {
		return nil, fmt.Errorf("build body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.RedactURL(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)
	}
	return data, nil
}

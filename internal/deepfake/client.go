// Package deepfake scores images with the Sightengine deepfake model.
package deepfake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/fakemeh/fakemeh-api/internal/imaging"
	"github.com/fakemeh/fakemeh-api/internal/model"
	"github.com/fakemeh/fakemeh-api/internal/platform/config"
	"github.com/fakemeh/fakemeh-api/internal/platform/errs"
	"github.com/fakemeh/fakemeh-api/internal/platform/requestid"
)

const (
	modelName       = "deepfake"
	uploadFilename  = "image.jpg"
	maxResponseBody = 1 << 20
	defaultTimeout  = 15 * time.Second
)

var (
	errFailureStatus = errors.New("provider reported failure")
	errBadStatus     = errors.New("unexpected HTTP status")
)

// Failure is returned for every way a scoring call can go wrong. Its message
// is safe to show to API callers.
type Failure struct {
	// StatusCode is the provider's HTTP status, 0 when no response arrived.
	StatusCode int
	Err        error
}

func (f *Failure) Error() string {
	return "Sightengine API failed: " + f.Err.Error()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Result is a successful deepfake score.
type Result struct {
	// Score is the manipulation probability, clamped to [0,1].
	Score float64
	// Confidence is "high" when Score > 0.5, otherwise "low".
	Confidence string
	// Raw is the provider payload, verbatim.
	Raw json.RawMessage
	// Face is the first face box in the payload converted to image pixels,
	// if the provider sent one.
	Face *model.FaceBox
}

// Client calls the Sightengine check endpoint.
type Client struct {
	endpoint   string
	apiUser    string
	apiSecret  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient constructs a Client from configuration.
func NewClient(cfg config.DeepfakeConfig, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		endpoint:   cfg.URL,
		apiUser:    cfg.APIUser,
		apiSecret:  cfg.APISecret,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type checkResponse struct {
	Status string `json:"status"`
	Type   struct {
		Deepfake *float64 `json:"deepfake"`
	} `json:"type"`
	Faces []model.FaceBox `json:"faces"`
	Error *struct {
		Type    string `json:"type"`
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Score uploads image and returns the provider's deepfake probability.
// Every error is a *Failure.
func (c *Client) Score(ctx context.Context, image []byte) (*Result, error) {
	start := time.Now()

	req, err := c.newRequest(ctx, image)
	if err != nil {
		return nil, &Failure{Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Failure{Err: errs.RedactURL(err)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &Failure{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Failure{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w %d: %s", errBadStatus, resp.StatusCode, providerMessage(body)),
		}
	}

	var parsed checkResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &Failure{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if parsed.Status == "failure" {
		msg := "unknown error"
		if parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return nil, &Failure{StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %s", errFailureStatus, msg)}
	}

	result := &Result{Raw: json.RawMessage(body)}
	if parsed.Type.Deepfake != nil {
		result.Score = clamp01(*parsed.Type.Deepfake)
	}
	result.Confidence = ConfidenceLabel(result.Score)
	if len(parsed.Faces) > 0 {
		result.Face = c.facePixels(ctx, parsed.Faces[0], image)
	}

	c.logger.Debug("deepfake scored",
		requestid.Attr(ctx),
		"score", result.Score,
		"face_found", result.Face != nil,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// facePixels converts a face box reported as fractions of the image size into
// pixel coordinates of image. It returns nil when the image dimensions cannot
// be read.
func (c *Client) facePixels(ctx context.Context, box model.FaceBox, image []byte) *model.FaceBox {
	w, h, err := imaging.Dimensions(image)
	if err != nil {
		c.logger.Debug("deepfake face box dropped", requestid.Attr(ctx), "error", err)
		return nil
	}
	return &model.FaceBox{
		X1: box.X1 * float64(w),
		Y1: box.Y1 * float64(h),
		X2: box.X2 * float64(w),
		Y2: box.Y2 * float64(h),
	}
}

func (c *Client) newRequest(ctx context.Context, image []byte) (*http.Request, error) {
	endpoint, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := endpoint.Query()
	q.Set("models", modelName)
	q.Set("api_user", c.apiUser)
	q.Set("api_secret", c.apiSecret)
	endpoint.RawQuery = q.Encode()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("media", uploadFilename)
	if err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// ConfidenceLabel maps a score to "high" (strictly above 0.5) or "low".
func ConfidenceLabel(score float64) string {
	if score > 0.5 {
		return "high"
	}
	return "low"
}

// providerMessage pulls error.message out of a failure body, falling back to
// a truncated copy of the body.
func providerMessage(body []byte) string {
	var parsed checkResponse
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	const maxLen = 200
	if len(body) > maxLen {
		return string(body[:maxLen])
	}
	return string(body)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

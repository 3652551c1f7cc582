package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/fakemeh/fakemeh-api/internal/imagesource"
	"github.com/fakemeh/fakemeh-api/internal/model"
	"github.com/fakemeh/fakemeh-api/internal/platform/errs"
)

const (
	defaultAnalyzeTimeout = 60 * time.Second
	// formOverhead leaves room for multipart boundaries and the url field on
	// top of the image itself.
	formOverhead = 64 << 10
	// maxFormMemory is what ParseMultipartForm keeps in memory before
	// spilling file parts to disk.
	maxFormMemory = 8 << 20
	// maxClaimBody caps a standalone fact-check request.
	maxClaimBody = 64 << 10
)

// TransportOptions tunes NewTransport. Zero values select the defaults.
type TransportOptions struct {
	AnalyzeTimeout time.Duration
	MaxUploadBytes int64
}

// Transport handles HTTP requests for image analysis.
type Transport struct {
	service        *Service
	logger         *slog.Logger
	analyzeTimeout time.Duration
	maxUploadBytes int64
}

// NewTransport creates an HTTP transport backed by the given service.
func NewTransport(service *Service, logger *slog.Logger, opts TransportOptions) *Transport {
	if opts.AnalyzeTimeout <= 0 {
		opts.AnalyzeTimeout = defaultAnalyzeTimeout
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = imagesource.DefaultMaxBytes
	}
	return &Transport{
		service:        service,
		logger:         logger,
		analyzeTimeout: opts.AnalyzeTimeout,
		maxUploadBytes: opts.MaxUploadBytes,
	}
}

// RegisterRoutes attaches the transport's handlers to the given mux.
func (t *Transport) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /analyze", t.handleAnalyze)
	mux.HandleFunc("POST /fact-check", t.handleFactCheck)
	mux.HandleFunc("GET /healthz", t.handleHealth)
}

// analyzeRequest is the JSON form of a URL-only request.
type analyzeRequest struct {
	URL string `json:"url"`
}

// factCheckRequest is the body of a standalone claim lookup.
type factCheckRequest struct {
	Claim string `json:"claim"`
}

func (t *Transport) handleHealth(w http.ResponseWriter, _ *http.Request) {
	t.renderJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (t *Transport) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, t.maxUploadBytes+formOverhead)

	req, cleanup, err := t.decodeRequest(r)
	if err != nil {
		t.handleServiceError(w, err)
		return
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(r.Context(), t.analyzeTimeout)
	defer cancel()

	result, err := t.service.Analyze(ctx, req)
	if err != nil {
		t.handleServiceError(w, err)
		return
	}

	t.renderJSON(w, http.StatusOK, result)
}

func (t *Transport) handleFactCheck(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxClaimBody)

	var body factCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		t.handleServiceError(w, errs.Invalid("Invalid request body. Please send a JSON object with a \"claim\" field.", err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), t.analyzeTimeout)
	defer cancel()

	report, err := t.service.CheckClaim(ctx, body.Claim)
	if err != nil {
		t.handleServiceError(w, err)
		return
	}

	t.renderJSON(w, http.StatusOK, report)
}

// decodeRequest accepts a multipart form with an "image" file and/or a "url"
// field, a url-encoded form, or a JSON {"url": ...} body. A request naming
// neither is left for the service to reject.
func (t *Transport) decodeRequest(r *http.Request) (Request, func(), error) {
	noop := func() {}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/json":
		var body analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return Request{}, noop, errs.Invalid("Invalid request body. Please send a JSON object with a \"url\" field.", err)
		}
		return Request{URL: body.URL}, noop, nil

	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxFormMemory); err != nil {
			return Request{}, noop, formError(err)
		}
		form := r.MultipartForm
		cleanup := func() { _ = form.RemoveAll() }

		req := Request{URL: r.FormValue("url")}
		file, header, err := r.FormFile("image")
		switch {
		case err == nil:
			req.Upload = &Upload{Filename: header.Filename, Body: file}
			return req, func() {
				_ = file.Close()
				cleanup()
			}, nil
		case errors.Is(err, http.ErrMissingFile):
			return req, cleanup, nil
		default:
			cleanup()
			return Request{}, noop, errs.Invalid("Could not read the uploaded image", err)
		}

	default:
		if err := r.ParseForm(); err != nil {
			return Request{}, noop, formError(err)
		}
		return Request{URL: r.PostFormValue("url")}, noop, nil
	}
}

func formError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return errs.Invalid("Image exceeds the maximum upload size", err)
	}
	return errs.Invalid("Invalid form data", err)
}

func (t *Transport) handleServiceError(w http.ResponseWriter, err error) {
	var appErr *errs.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		switch appErr.Kind {
		case errs.InvalidInput:
			status = http.StatusBadRequest
		case errs.Unreachable:
			status = http.StatusBadGateway
		case errs.Timeout:
			status = http.StatusGatewayTimeout
		case errs.ParsingFailed, errs.UpstreamFailed, errs.Unknown:
			// 500 Internal Server Error
		}
		t.renderError(w, status, appErr.Message)
		return
	}

	t.renderError(w, http.StatusInternalServerError, "An unexpected error occurred.")
}

func (t *Transport) renderJSON(w http.ResponseWriter, status int, data any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		t.logger.Error("failed to encode response", "error", err)
		http.Error(w, `{"error":"Internal Server Error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (t *Transport) renderError(w http.ResponseWriter, status int, message string) {
	t.renderJSON(w, status, model.ErrorResponse{
		Error:      message,
		StatusCode: status,
	})
}

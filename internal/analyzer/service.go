package analyzer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fakemeh/fakemeh-api/internal/deepfake"
	"github.com/fakemeh/fakemeh-api/internal/factcheck"
	"github.com/fakemeh/fakemeh-api/internal/imagesource"
	"github.com/fakemeh/fakemeh-api/internal/imaging"
	"github.com/fakemeh/fakemeh-api/internal/model"
	"github.com/fakemeh/fakemeh-api/internal/platform/errs"
	"github.com/fakemeh/fakemeh-api/internal/platform/requestid"
	"github.com/fakemeh/fakemeh-api/internal/verdict"
)

// faceImageMaxSide bounds the image sent to the face endpoints.
const faceImageMaxSide = 1024

// Upload is an image file submitted with the request.
type Upload struct {
	Filename string
	Body     io.Reader
}

// Request names the image to analyze. Upload wins when both are set; URL is
// then only used as the page to read a claim from.
type Request struct {
	Upload *Upload
	URL    string
}

// Dependencies are the collaborators a Service orchestrates.
type Dependencies struct {
	Deepfake  DeepfakeScorer
	Face      FaceAnalyzer
	Claims    ClaimExtractor
	FactCheck FactChecker
	Images    ImageLoader
	// MaxUploadBytes caps uploaded files. Zero selects the package default.
	MaxUploadBytes int64
}

// Service runs the analysis pipeline and logs results.
type Service struct {
	deps   Dependencies
	logger *slog.Logger
}

// NewService creates a Service backed by the given collaborators.
func NewService(deps Dependencies, logger *slog.Logger) *Service {
	return &Service{deps: deps, logger: logger}
}

// Analyze acquires the image, queries every signal concurrently, and fuses
// them into a verdict. Only input errors and a deepfake failure fail the
// request; every other signal degrades to a neutral value.
func (s *Service) Analyze(ctx context.Context, req Request) (*model.AnalysisResult, error) {
	start := time.Now()
	logger := s.logger.With(requestid.Attr(ctx))

	src, err := s.acquire(ctx, req)
	if err != nil {
		logger.Warn("image rejected", "error", err)
		return nil, err
	}
	info := src.Info()
	logger = logger.With("source", info.Kind, "image_bytes", info.Bytes)

	var (
		scored    *deepfake.Result
		landmarks []model.Landmark
		quality   float64
		claimText string
		report    model.FactCheckReport
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := s.deps.Deepfake.Score(gctx, src.Bytes)
		if err != nil {
			return err
		}
		scored = res
		return nil
	})
	g.Go(func() error {
		landmarks, quality = s.faceSignals(gctx, logger, src.Bytes)
		return nil
	})
	g.Go(func() error {
		claimText, report = s.claimSignals(gctx, logger, src.Bytes, claimSourceURL(req, src))
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, s.failure(ctx, logger, err)
	}

	points := verdict.GenerateHeatmap(landmarks, quality, scored.Face)
	v := verdict.Fuse(scored.Score, points, quality)

	logger.Info("analysis complete",
		"deepfake_score", scored.Score,
		"adjusted_score", v.AdjustedScore,
		"max_anomaly", v.MaxAnomaly,
		"quality", quality,
		"classification", v.Classification,
		"claim_found", claimText != model.NoClaim,
		"factcheck_status", report.Status,
		"factcheck_matches", len(report.Claims),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &model.AnalysisResult{
		DeepfakeScore:       scored.Score,
		AdjustedScore:       v.AdjustedScore,
		Confidence:          scored.Confidence,
		Classification:      v.Classification,
		Color:               v.Color,
		RawDeepfakeResponse: scored.Raw,
		Landmarks:           landmarks,
		QualityScore:        quality,
		HeatmapData:         points,
		ExtractedClaim:      claimText,
		FactcheckData:       report,
		Source:              info,
	}, nil
}

// CheckClaim looks up a claim submitted on its own, without an image. Like
// the claim stage of Analyze it never fails once the claim is non-blank.
func (s *Service) CheckClaim(ctx context.Context, claim string) (model.FactCheckReport, error) {
	claim = strings.TrimSpace(claim)
	if claim == "" {
		return model.FactCheckReport{}, errs.Invalid("No claim provided", nil)
	}

	logger := s.logger.With(requestid.Attr(ctx))
	report := s.factCheck(ctx, logger, claim)
	logger.Info("claim checked",
		"factcheck_status", report.Status,
		"factcheck_matches", len(report.Claims),
	)
	return report, nil
}

func (s *Service) acquire(ctx context.Context, req Request) (*imagesource.Source, error) {
	switch {
	case req.Upload != nil:
		return imagesource.FromUpload(req.Upload.Filename, req.Upload.Body, s.deps.MaxUploadBytes)
	case strings.TrimSpace(req.URL) != "":
		return s.deps.Images.FromURL(ctx, strings.TrimSpace(req.URL))
	default:
		return nil, errs.Invalid("No image or URL provided", nil)
	}
}

// faceSignals normalizes the image once and queries landmarks and quality in
// parallel. Failures are logged and replaced by the adapters' neutral values.
// Landmarks come back in the pixel space of the submitted image.
func (s *Service) faceSignals(ctx context.Context, logger *slog.Logger, image []byte) ([]model.Landmark, float64) {
	norm, err := imaging.NormalizeJPEG(image, faceImageMaxSide)
	if err != nil {
		logger.Warn("face signals: normalization failed, sending original bytes", "error", err)
		norm = imaging.Normalized{Data: image, ScaleX: 1, ScaleY: 1}
	}

	var (
		landmarks []model.Landmark
		quality   float64
		wg        sync.WaitGroup
	)
	wg.Go(func() {
		var err error
		landmarks, err = s.deps.Face.Landmarks(ctx, norm.Data)
		if err != nil {
			// The fallback point is already in source coordinates.
			logger.Warn("face signals: landmarks degraded to fallback", "error", err)
			return
		}
		landmarks = toSourcePixels(landmarks, norm)
	})
	wg.Go(func() {
		var err error
		quality, err = s.deps.Face.Quality(ctx, norm.Data)
		if err != nil {
			logger.Warn("face signals: quality unknown", "error", err)
			quality = 0
		}
	})
	wg.Wait()

	if landmarks == nil {
		landmarks = []model.Landmark{}
	}
	return landmarks, quality
}

func toSourcePixels(landmarks []model.Landmark, norm imaging.Normalized) []model.Landmark {
	if norm.ScaleX == 1 && norm.ScaleY == 1 {
		return landmarks
	}
	out := make([]model.Landmark, len(landmarks))
	for i, lm := range landmarks {
		lm.X, lm.Y = norm.ToSource(lm.X, lm.Y)
		out[i] = lm
	}
	return out
}

// claimSignals extracts the claim and, when enabled, fact-checks it. The
// sentinel claim is looked up like any other text.
func (s *Service) claimSignals(ctx context.Context, logger *slog.Logger, image []byte, sourceURL string) (string, model.FactCheckReport) {
	text := s.deps.Claims.Extract(ctx, image, sourceURL)
	return text, s.factCheck(ctx, logger, text)
}

func (s *Service) factCheck(ctx context.Context, logger *slog.Logger, text string) model.FactCheckReport {
	if !s.deps.FactCheck.Enabled() {
		return factcheck.Disabled(text)
	}
	report, err := s.deps.FactCheck.Search(ctx, text)
	if err != nil {
		logger.Warn("fact check unavailable", "error", err)
		return factcheck.Unavailable(text, err)
	}
	return *report
}

// failure maps a fatal pipeline error to an *errs.AppError.
func (s *Service) failure(ctx context.Context, logger *slog.Logger, err error) error {
	var (
		appErr  *errs.AppError
		failure *deepfake.Failure
	)
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		appErr = &errs.AppError{
			Kind:    errs.Timeout,
			Message: "Analysis timed out. An upstream service may be slow to respond.",
			Cause:   err,
		}
	case errors.As(err, &failure):
		appErr = &errs.AppError{
			Kind:           errs.UpstreamFailed,
			UpstreamStatus: failure.StatusCode,
			Message:        failure.Error(),
			Cause:          failure,
		}
	default:
		appErr = &errs.AppError{
			Kind:    errs.Unknown,
			Message: err.Error(),
			Cause:   err,
		}
	}

	attrs := []any{"error", err, "kind", appErr.Kind.String()}
	if appErr.UpstreamStatus != 0 {
		attrs = append(attrs, "upstream_status", appErr.UpstreamStatus)
	}
	logger.Error("analysis failed", attrs...)
	return appErr
}

// claimSourceURL picks the page whose text accompanies the image: the
// submitted URL alongside an upload, or the page a URL image was found on.
// A URL that served the image directly has no page to read.
func claimSourceURL(req Request, src *imagesource.Source) string {
	if req.Upload != nil {
		return strings.TrimSpace(req.URL)
	}
	if src.ImageURL != "" {
		return src.PageURL
	}
	return ""
}

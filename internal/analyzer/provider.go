package analyzer

import (
	"context"

	"github.com/fakemeh/fakemeh-api/internal/deepfake"
	"github.com/fakemeh/fakemeh-api/internal/imagesource"
	"github.com/fakemeh/fakemeh-api/internal/model"
)

// DeepfakeScorer is the primary signal. Its failure fails the analysis.
type DeepfakeScorer interface {
	Score(ctx context.Context, image []byte) (*deepfake.Result, error)
}

// FaceAnalyzer reports facial landmarks and a face quality score. Landmarks
// returns usable landmarks even alongside an error.
type FaceAnalyzer interface {
	Landmarks(ctx context.Context, jpeg []byte) ([]model.Landmark, error)
	Quality(ctx context.Context, jpeg []byte) (float64, error)
}

// ClaimExtractor pulls a textual claim out of an image and its source page.
type ClaimExtractor interface {
	Extract(ctx context.Context, image []byte, sourceURL string) string
}

// FactChecker looks a claim up against published fact checks.
type FactChecker interface {
	Enabled() bool
	Search(ctx context.Context, query string) (*model.FactCheckReport, error)
}

// ImageLoader downloads an image from a user-supplied URL.
type ImageLoader interface {
	FromURL(ctx context.Context, rawURL string) (*imagesource.Source, error)
}

// Package verdict turns provider signals into a manipulation verdict: an
// anomaly heatmap over facial landmarks and a fused, classified score.
package verdict

import "github.com/fakemeh/fakemeh-api/internal/model"

const (
	anomalyBoostThreshold = 0.7
	anomalyBoost          = 0.2
	qualityBoostThreshold = 30.0
	qualityBoost          = 0.1

	highlyLikelyFakeAt = 0.7
	possiblyFakeAt     = 0.4
)

// Verdict is the fused score with its classification.
type Verdict struct {
	// AdjustedScore is not clamped; it can exceed 1.0.
	AdjustedScore  float64
	MaxAnomaly     float64
	Classification model.Classification
	Color          model.Color
}

// Fuse combines the deepfake score, the strongest heatmap anomaly, and the
// face quality into an adjusted score and classification.
func Fuse(deepfakeScore float64, points []model.HeatmapPoint, quality float64) Verdict {
	anomaly := MaxAnomaly(points)

	adjusted := deepfakeScore
	if anomaly > anomalyBoostThreshold {
		adjusted += anomalyBoost
	}
	if quality < qualityBoostThreshold {
		adjusted += qualityBoost
	}

	class := Classify(adjusted)
	return Verdict{
		AdjustedScore:  adjusted,
		MaxAnomaly:     anomaly,
		Classification: class,
		Color:          ColorFor(class),
	}
}

// MaxAnomaly returns the highest anomaly score among points, or 0 for none.
func MaxAnomaly(points []model.HeatmapPoint) float64 {
	var highest float64
	for i, p := range points {
		if i == 0 || p.AnomalyScore > highest {
			highest = p.AnomalyScore
		}
	}
	return highest
}

// Classify buckets an adjusted score. Thresholds are inclusive lower bounds.
func Classify(adjusted float64) model.Classification {
	switch {
	case adjusted >= highlyLikelyFakeAt:
		return model.HighlyLikelyFake
	case adjusted >= possiblyFakeAt:
		return model.PossiblyFake
	default:
		return model.LikelyReal
	}
}

// ColorFor maps a classification to its severity color.
func ColorFor(c model.Classification) model.Color {
	switch c {
	case model.HighlyLikelyFake:
		return model.Red
	case model.PossiblyFake:
		return model.Yellow
	default:
		return model.Green
	}
}

package verdict

import (
	"strings"

	"github.com/fakemeh/fakemeh-api/internal/model"
)

// Default anchor used when no landmark geometry is available.
const (
	MockX = 400.0
	MockY = 175.0
)

const (
	fallbackAnomaly  = 0.5
	geometryAnomaly  = 0.8
	maxEyeDistance   = 100.0
	minEyeNoseRatio  = 0.5
	lowQualityCutoff = 50.0
	qualityPenalty   = 0.5
)

// MockPoint is the placeholder heatmap point.
func MockPoint() model.HeatmapPoint {
	return model.HeatmapPoint{Region: "mock", X: MockX, Y: MockY, AnomalyScore: fallbackAnomaly}
}

// GenerateHeatmap derives anomaly points from facial landmarks and a face
// quality score. face is the deepfake provider's bounding box, used only when
// there are no landmarks at all. The result is never empty.
func GenerateHeatmap(landmarks []model.Landmark, quality float64, face *model.FaceBox) []model.HeatmapPoint {
	if len(landmarks) == 0 {
		if face != nil {
			x, y := face.Center()
			return []model.HeatmapPoint{{Region: "face", X: x, Y: y, AnomalyScore: fallbackAnomaly}}
		}
		return []model.HeatmapPoint{MockPoint()}
	}

	leftEye, okL := findLandmark(landmarks, "left_eye")
	rightEye, okR := findLandmark(landmarks, "right_eye")
	nose, okN := findLandmark(landmarks, "nose_tip")
	if !okL || !okR || !okN {
		return []model.HeatmapPoint{MockPoint()}
	}

	return []model.HeatmapPoint{{
		Region:       "eyes",
		X:            (leftEye.X + rightEye.X) / 2,
		Y:            (leftEye.Y + rightEye.Y) / 2,
		AnomalyScore: geometryScore(leftEye, rightEye, nose, quality),
	}}
}

// geometryScore flags implausible eye spacing or eye-to-nose proportions and
// adds a penalty for poor face quality. A zero eye distance counts as
// implausible.
func geometryScore(leftEye, rightEye, nose model.Landmark, quality float64) float64 {
	eyeDistance := abs(leftEye.X - rightEye.X)
	eyeToNose := abs(leftEye.Y - nose.Y)

	var score float64
	if eyeDistance == 0 || eyeDistance > maxEyeDistance || eyeToNose/eyeDistance < minEyeNoseRatio {
		score = geometryAnomaly
	}

	if quality < lowQualityCutoff {
		score += (1 - quality/100) * qualityPenalty
	}

	return min(score, 1.0)
}

// findLandmark returns the first landmark whose type contains name,
// ignoring case.
func findLandmark(landmarks []model.Landmark, name string) (model.Landmark, bool) {
	for _, lm := range landmarks {
		if strings.Contains(strings.ToLower(lm.Type), name) {
			return lm, true
		}
	}
	return model.Landmark{}, false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

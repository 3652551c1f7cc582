package model

import "encoding/json"

// NoClaim is the claim used when nothing could be extracted. It is sent to
// fact checking as an ordinary query.
const NoClaim = "No claim detected"

// Classification is the verdict bucket for an analyzed image.
type Classification string

const (
	HighlyLikelyFake Classification = "Highly Likely Fake"
	PossiblyFake     Classification = "Possibly Fake"
	LikelyReal       Classification = "Likely Real"
)

// Color is the severity color shown alongside a classification.
type Color string

const (
	Red    Color = "red"
	Yellow Color = "yellow"
	Green  Color = "green"
)

// Landmark is a named facial point in image pixel coordinates.
type Landmark struct {
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	// AnomalyScore is only set on the placeholder landmark returned when the
	// face service produced nothing usable.
	AnomalyScore float64 `json:"anomaly_score,omitempty"`
}

// FaceBox is a face bounding box reported by the deepfake provider.
type FaceBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Center returns the midpoint of the box.
func (b FaceBox) Center() (x, y float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// HeatmapPoint is a spatial anchor with an anomaly intensity in [0,1].
type HeatmapPoint struct {
	Region       string  `json:"region"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	AnomalyScore float64 `json:"anomaly_score"`
}

// FactCheckStatus tells whether fact checking ran.
type FactCheckStatus string

const (
	FactCheckOK          FactCheckStatus = "ok"
	FactCheckUnavailable FactCheckStatus = "unavailable"
	FactCheckDisabled    FactCheckStatus = "disabled"
)

// ClaimReview is one published review of a claim.
type ClaimReview struct {
	Text       string `json:"text"`
	Claimant   string `json:"claimant,omitempty"`
	Rating     string `json:"rating"`
	Publisher  string `json:"publisher"`
	URL        string `json:"url,omitempty"`
	ReviewDate string `json:"review_date,omitempty"`
}

// FactCheckReport is the outcome of looking up a claim.
type FactCheckReport struct {
	Status FactCheckStatus `json:"status"`
	Query  string          `json:"query"`
	Claims []ClaimReview   `json:"claims"`
	Error  string          `json:"error,omitempty"`
}

// SourceInfo describes where the analyzed image came from.
type SourceInfo struct {
	Kind     string `json:"kind"` // "upload" or "url"
	Filename string `json:"filename,omitempty"`
	URL      string `json:"url,omitempty"`
	ImageURL string `json:"image_url,omitempty"` // set when the URL was a page with an og:image
	Bytes    int    `json:"bytes"`
}

// AnalysisResult is the complete response of a successful analysis.
type AnalysisResult struct {
	// DeepfakeScore is the provider's manipulation probability in [0,1].
	DeepfakeScore float64 `json:"deepfake_score"`
	// AdjustedScore is the fused score. It is not clamped and may exceed 1.0.
	AdjustedScore       float64         `json:"adjusted_score"`
	Confidence          string          `json:"confidence"`
	Classification      Classification  `json:"classification"`
	Color               Color           `json:"color"`
	RawDeepfakeResponse json.RawMessage `json:"raw_deepfake_response"`
	Landmarks           []Landmark      `json:"landmarks"`
	QualityScore        float64         `json:"quality_score"`
	HeatmapData         []HeatmapPoint  `json:"heatmap_data"`
	ExtractedClaim      string          `json:"extracted_claim"`
	FactcheckData       FactCheckReport `json:"factcheck_data"`
	Source              SourceInfo      `json:"source"`
}

// ErrorResponse is the JSON shape returned on failure.
type ErrorResponse struct {
	Error      string `json:"error"`
	StatusCode int    `json:"status_code"`
}

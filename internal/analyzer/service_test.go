package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakemeh/fakemeh-api/internal/deepfake"
	"github.com/fakemeh/fakemeh-api/internal/faceapi"
	"github.com/fakemeh/fakemeh-api/internal/imagesource"
	"github.com/fakemeh/fakemeh-api/internal/imaging"
	"github.com/fakemeh/fakemeh-api/internal/model"
	"github.com/fakemeh/fakemeh-api/internal/platform/errs"
	"github.com/fakemeh/fakemeh-api/internal/platform/logger"
)

type mockDeepfake struct {
	result *deepfake.Result
	err    error
	// block makes Score wait for cancellation.
	block  bool
	called bool
}

func (m *mockDeepfake) Score(ctx context.Context, _ []byte) (*deepfake.Result, error) {
	m.called = true
	if m.block {
		<-ctx.Done()
		return nil, &deepfake.Failure{Err: ctx.Err()}
	}
	return m.result, m.err
}

type mockFace struct {
	landmarks    []model.Landmark
	landmarksErr error
	quality      float64
	qualityErr   error

	mu  sync.Mutex
	got [][]byte
}

func (m *mockFace) record(b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, b)
}

func (m *mockFace) Landmarks(_ context.Context, jpeg []byte) ([]model.Landmark, error) {
	m.record(jpeg)
	return m.landmarks, m.landmarksErr
}

func (m *mockFace) Quality(_ context.Context, jpeg []byte) (float64, error) {
	m.record(jpeg)
	return m.quality, m.qualityErr
}

type mockClaims struct {
	text     string
	gotImage []byte
	gotURL   string
}

func (m *mockClaims) Extract(_ context.Context, image []byte, sourceURL string) string {
	m.gotImage = image
	m.gotURL = sourceURL
	return m.text
}

type mockFactCheck struct {
	enabled  bool
	report   *model.FactCheckReport
	err      error
	gotQuery string
}

func (m *mockFactCheck) Enabled() bool { return m.enabled }

func (m *mockFactCheck) Search(_ context.Context, query string) (*model.FactCheckReport, error) {
	m.gotQuery = query
	return m.report, m.err
}

type mockLoader struct {
	src    *imagesource.Source
	err    error
	gotURL string
}

func (m *mockLoader) FromURL(_ context.Context, rawURL string) (*imagesource.Source, error) {
	m.gotURL = rawURL
	return m.src, m.err
}

type fixture struct {
	deepfake  *mockDeepfake
	face      *mockFace
	claims    *mockClaims
	factcheck *mockFactCheck
	loader    *mockLoader
}

func plausibleFace() []model.Landmark {
	return []model.Landmark{
		{Type: "left_eye", X: 100, Y: 100},
		{Type: "right_eye", X: 180, Y: 100},
		{Type: "nose_tip", X: 140, Y: 160},
	}
}

func newFixture() *fixture {
	return &fixture{
		deepfake: &mockDeepfake{result: &deepfake.Result{
			Score:      0.1,
			Confidence: "low",
			Raw:        json.RawMessage(`{"status":"success","type":{"deepfake":0.1}}`),
		}},
		face:   &mockFace{landmarks: plausibleFace(), quality: 80},
		claims: &mockClaims{text: "Shark on the highway"},
		factcheck: &mockFactCheck{enabled: true, report: &model.FactCheckReport{
			Status: model.FactCheckOK,
			Query:  "Shark on the highway",
			Claims: []model.ClaimReview{{Text: "Shark on highway", Rating: "False", Publisher: "AFP"}},
		}},
		loader: &mockLoader{},
	}
}

func (f *fixture) service() *Service {
	return NewService(Dependencies{
		Deepfake:       f.deepfake,
		Face:           f.face,
		Claims:         f.claims,
		FactCheck:      f.factcheck,
		Images:         f.loader,
		MaxUploadBytes: 1 << 20,
	}, logger.Discard())
}

func upload(name, body string) Request {
	return Request{Upload: &Upload{Filename: name, Body: strings.NewReader(body)}}
}

func requireKind(t *testing.T, err error, kind errs.Kind) *errs.AppError {
	t.Helper()
	var appErr *errs.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, kind, appErr.Kind)
	return appErr
}

func TestAnalyze_Upload(t *testing.T) {
	f := newFixture()

	res, err := f.service().Analyze(context.Background(), upload("photo.JPG", "img"))
	require.NoError(t, err)

	assert.InDelta(t, 0.1, res.DeepfakeScore, 1e-9)
	assert.InDelta(t, 0.1, res.AdjustedScore, 1e-9)
	assert.Equal(t, "low", res.Confidence)
	assert.Equal(t, model.LikelyReal, res.Classification)
	assert.Equal(t, model.Green, res.Color)
	assert.JSONEq(t, `{"status":"success","type":{"deepfake":0.1}}`, string(res.RawDeepfakeResponse))
	assert.Equal(t, plausibleFace(), res.Landmarks)
	assert.InDelta(t, 80, res.QualityScore, 1e-9)
	assert.Equal(t, []model.HeatmapPoint{{Region: "eyes", X: 140, Y: 100, AnomalyScore: 0}}, res.HeatmapData)
	assert.Equal(t, "Shark on the highway", res.ExtractedClaim)
	assert.Equal(t, model.FactCheckOK, res.FactcheckData.Status)
	assert.Len(t, res.FactcheckData.Claims, 1)
	assert.Equal(t, model.SourceInfo{Kind: "upload", Filename: "photo.JPG", Bytes: 3}, res.Source)

	assert.Equal(t, []byte("img"), f.claims.gotImage)
	assert.Empty(t, f.claims.gotURL)
	assert.Equal(t, "Shark on the highway", f.factcheck.gotQuery)
	// Undecodable bytes are passed to the face service unchanged.
	for _, got := range f.face.got {
		assert.Equal(t, []byte("img"), got)
	}
}

func TestAnalyze_GeometryAnomalyRaisesScore(t *testing.T) {
	f := newFixture()
	f.deepfake.result.Score = 0.5
	f.deepfake.result.Confidence = "low"
	f.face.landmarks = []model.Landmark{
		{Type: "left_eye", X: 0, Y: 100},
		{Type: "right_eye", X: 150, Y: 100},
		{Type: "nose_tip", X: 75, Y: 200},
	}
	f.face.quality = 50

	res, err := f.service().Analyze(context.Background(), upload("a.png", "img"))
	require.NoError(t, err)

	assert.InDelta(t, 0.7, res.AdjustedScore, 1e-9)
	assert.Equal(t, model.HighlyLikelyFake, res.Classification)
	assert.Equal(t, model.Red, res.Color)
}

func TestAnalyze_LandmarksMappedToSourcePixels(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2048, 2048))))

	f := newFixture()
	// The face service sees the 1024px copy, so these are half-scale points
	// for eyes 160px apart in the upload.
	f.face.landmarks = []model.Landmark{
		{Type: "left_eye", X: 400, Y: 350},
		{Type: "right_eye", X: 480, Y: 350},
		{Type: "nose_tip", X: 440, Y: 400},
	}

	req := Request{Upload: &Upload{Filename: "big.png", Body: bytes.NewReader(buf.Bytes())}}
	res, err := f.service().Analyze(context.Background(), req)
	require.NoError(t, err)

	require.NotEmpty(t, f.face.got)
	w, h, err := imaging.Dimensions(f.face.got[0])
	require.NoError(t, err)
	assert.Equal(t, 1024, w)
	assert.Equal(t, 1024, h)

	assert.Equal(t, []model.Landmark{
		{Type: "left_eye", X: 800, Y: 700},
		{Type: "right_eye", X: 960, Y: 700},
		{Type: "nose_tip", X: 880, Y: 800},
	}, res.Landmarks)
	assert.Equal(t, []model.HeatmapPoint{{Region: "eyes", X: 880, Y: 700, AnomalyScore: 0.8}}, res.HeatmapData)
	assert.InDelta(t, 0.3, res.AdjustedScore, 1e-9)
}

func TestAnalyze_SoftFailuresDegrade(t *testing.T) {
	f := newFixture()
	f.deepfake.result.Score = 0.3
	f.face.landmarks = faceapi.FallbackLandmarks()
	f.face.landmarksErr = errors.New("all encodings rejected")
	f.face.quality = 0
	f.face.qualityErr = errors.New("no face")
	f.factcheck.report = nil
	f.factcheck.err = errors.New("quota exceeded")
	f.claims.text = model.NoClaim

	res, err := f.service().Analyze(context.Background(), upload("a.jpeg", "img"))
	require.NoError(t, err)

	assert.Equal(t, faceapi.FallbackLandmarks(), res.Landmarks)
	assert.Zero(t, res.QualityScore)
	assert.Equal(t, []model.HeatmapPoint{{Region: "mock", X: 400, Y: 175, AnomalyScore: 0.5}}, res.HeatmapData)
	assert.InDelta(t, 0.4, res.AdjustedScore, 1e-9)
	assert.Equal(t, model.PossiblyFake, res.Classification)
	assert.Equal(t, model.Yellow, res.Color)

	assert.Equal(t, model.NoClaim, res.ExtractedClaim)
	assert.Equal(t, model.NoClaim, f.factcheck.gotQuery)
	assert.Equal(t, model.FactCheckUnavailable, res.FactcheckData.Status)
	assert.Contains(t, res.FactcheckData.Error, "quota exceeded")
	assert.NotNil(t, res.FactcheckData.Claims)
}

func TestAnalyze_FactCheckDisabled(t *testing.T) {
	f := newFixture()
	f.factcheck.enabled = false

	res, err := f.service().Analyze(context.Background(), upload("a.png", "img"))
	require.NoError(t, err)

	assert.Equal(t, model.FactCheckDisabled, res.FactcheckData.Status)
	assert.Equal(t, "Shark on the highway", res.FactcheckData.Query)
	assert.Empty(t, f.factcheck.gotQuery)
}

func TestAnalyze_FaceBoxFallback(t *testing.T) {
	f := newFixture()
	f.face.landmarks = nil
	f.deepfake.result.Face = &model.FaceBox{X1: 10, Y1: 20, X2: 30, Y2: 60}

	res, err := f.service().Analyze(context.Background(), upload("a.png", "img"))
	require.NoError(t, err)

	assert.NotNil(t, res.Landmarks)
	assert.Equal(t, []model.HeatmapPoint{{Region: "face", X: 20, Y: 40, AnomalyScore: 0.5}}, res.HeatmapData)
}

func TestAnalyze_ClaimSourceURL(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		src     *imagesource.Source
		wantURL string
	}{
		{
			name: "page with preview image",
			req:  Request{URL: "https://social.example.com/p/1"},
			src: &imagesource.Source{
				Bytes:    []byte("img"),
				URL:      "https://social.example.com/p/1",
				PageURL:  "https://social.example.com/p/1?ref=x",
				ImageURL: "https://cdn.example.com/1.jpg",
			},
			wantURL: "https://social.example.com/p/1?ref=x",
		},
		{
			name: "direct image url",
			req:  Request{URL: "https://cdn.example.com/1.jpg"},
			src: &imagesource.Source{
				Bytes:   []byte("img"),
				URL:     "https://cdn.example.com/1.jpg",
				PageURL: "https://cdn.example.com/1.jpg",
			},
			wantURL: "",
		},
		{
			name:    "upload alongside url",
			req:     Request{Upload: &Upload{Filename: "a.png", Body: strings.NewReader("img")}, URL: " https://news.example.com/story "},
			wantURL: "https://news.example.com/story",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.loader.src = tt.src

			res, err := f.service().Analyze(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, f.claims.gotURL)

			if tt.req.Upload == nil {
				assert.Equal(t, tt.req.URL, f.loader.gotURL)
				assert.Equal(t, "url", res.Source.Kind)
			} else {
				assert.Empty(t, f.loader.gotURL)
				assert.Equal(t, "upload", res.Source.Kind)
			}
		})
	}
}

func TestAnalyze_InputErrors(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		loadErr error
		wantMsg string
	}{
		{name: "nothing provided", req: Request{}, wantMsg: "No image or URL provided"},
		{name: "blank url", req: Request{URL: "   "}, wantMsg: "No image or URL provided"},
		{name: "unsupported extension", req: upload("anim.gif", "GIF89a"), wantMsg: "Unsupported image format"},
		{name: "empty upload", req: upload("a.png", ""), wantMsg: "Uploaded image is empty"},
		{
			name:    "url fetch failed",
			req:     Request{URL: "https://down.example.com/a.jpg"},
			loadErr: errs.Invalid("Could not fetch image from URL", errors.New("refused")),
			wantMsg: "Could not fetch image from URL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.loader.err = tt.loadErr

			res, err := f.service().Analyze(context.Background(), tt.req)
			assert.Nil(t, res)
			appErr := requireKind(t, err, errs.InvalidInput)
			assert.Equal(t, tt.wantMsg, appErr.Message)
			assert.False(t, f.deepfake.called)
		})
	}
}

func TestAnalyze_DeepfakeFailureIsFatal(t *testing.T) {
	f := newFixture()
	f.deepfake.result = nil
	f.deepfake.err = &deepfake.Failure{StatusCode: 401, Err: errors.New("Incorrect API user or secret")}

	res, err := f.service().Analyze(context.Background(), upload("a.png", "img"))
	assert.Nil(t, res)

	appErr := requireKind(t, err, errs.UpstreamFailed)
	assert.Equal(t, "Sightengine API failed: Incorrect API user or secret", appErr.Message)
	assert.Equal(t, 401, appErr.UpstreamStatus)
}

func TestAnalyze_Timeout(t *testing.T) {
	f := newFixture()
	f.deepfake.block = true

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.service().Analyze(ctx, upload("a.png", "img"))
	requireKind(t, err, errs.Timeout)
}

func TestCheckClaim(t *testing.T) {
	f := newFixture()

	report, err := f.service().CheckClaim(context.Background(), "  Shark on the highway ")
	require.NoError(t, err)
	assert.Equal(t, model.FactCheckOK, report.Status)
	assert.Equal(t, "Shark on the highway", f.factcheck.gotQuery)
	assert.Len(t, report.Claims, 1)

	_, err = f.service().CheckClaim(context.Background(), " ")
	appErr := requireKind(t, err, errs.InvalidInput)
	assert.Equal(t, "No claim provided", appErr.Message)
}

package faceapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakemeh/fakemeh-api/internal/model"
	"github.com/fakemeh/fakemeh-api/internal/platform/config"
	"github.com/fakemeh/fakemeh-api/internal/platform/logger"
)

var testImage = []byte("jpeg-bytes")

// recorder captures the encoding of each request it receives and answers with
// the response scripted for that attempt.
type recorder struct {
	mu        sync.Mutex
	encodings []string
	replies   []reply
}

type reply struct {
	status int
	body   string
}

func (rec *recorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-1", r.URL.Query().Get("api_key"))
		assert.Equal(t, "secret-1", r.URL.Query().Get("api_secret"))

		enc := describe(t, r)

		rec.mu.Lock()
		idx := len(rec.encodings)
		rec.encodings = append(rec.encodings, enc)
		rec.mu.Unlock()

		rep := reply{status: http.StatusBadRequest, body: `{"error":"unsupported"}`}
		if idx < len(rec.replies) {
			rep = rec.replies[idx]
		}
		w.WriteHeader(rep.status)
		_, _ = fmt.Fprint(w, rep.body)
	}
}

// describe names the request encoding and checks the image arrived intact.
func describe(t *testing.T, r *http.Request) string {
	t.Helper()
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	b64 := base64.StdEncoding.EncodeToString(testImage)

	switch mediaType {
	case "multipart/form-data":
		file, _, err := r.FormFile("image_file")
		if !assert.NoError(t, err) {
			return "multipart:missing"
		}
		data, _ := io.ReadAll(file)
		assert.Equal(t, testImage, data)
		return "multipart:image_file"
	case "application/x-www-form-urlencoded":
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, b64, r.PostForm.Get("image_base64"))
		return "form:image_base64"
	case "application/json":
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		for _, key := range []string{"image", "image_base64", "img"} {
			if v, ok := body[key]; ok {
				assert.Equal(t, b64, v)
				if key == "img" {
					assert.Equal(t, "facequality", body["return_attributes"])
				}
				return "json:" + key
			}
		}
	}
	return "unknown:" + mediaType
}

func newTestClient(t *testing.T, rec *recorder) *Client {
	t.Helper()
	ts := httptest.NewServer(rec.handler(t))
	t.Cleanup(ts.Close)
	return NewClient(config.FaceConfig{
		LandmarkURL: ts.URL + "/landmarks",
		QualityURL:  ts.URL + "/quality",
		APIKey:      "key-1",
		APISecret:   "secret-1",
		Timeout:     2 * time.Second,
	}, logger.Discard())
}

func TestLandmarks_FirstCandidateWins(t *testing.T) {
	rec := &recorder{replies: []reply{
		{status: 200, body: `{"landmarks":[{"type":"left_eye","x":100,"y":100},{"type":"right_eye","x":180,"y":100}]}`},
	}}

	got, err := newTestClient(t, rec).Landmarks(context.Background(), testImage)
	require.NoError(t, err)
	assert.Equal(t, []model.Landmark{
		{Type: "left_eye", X: 100, Y: 100},
		{Type: "right_eye", X: 180, Y: 100},
	}, got)
	assert.Equal(t, []string{"multipart:image_file"}, rec.encodings)
}

func TestLandmarks_CandidateOrder(t *testing.T) {
	rec := &recorder{replies: []reply{
		{status: 415, body: `{"error":"unsupported media type"}`},
		{status: 200, body: `{"landmarks":[]}`},
		{status: 200, body: `{"landmarks":[{"type":"nose_tip","x":140,"y":160}]}`},
	}}

	got, err := newTestClient(t, rec).Landmarks(context.Background(), testImage)
	require.NoError(t, err)
	assert.Equal(t, []model.Landmark{{Type: "nose_tip", X: 140, Y: 160}}, got)
	assert.Equal(t, []string{"multipart:image_file", "form:image_base64", "json:image"}, rec.encodings)
}

func TestLandmarks_FallbackWhenAllFail(t *testing.T) {
	rec := &recorder{}

	got, err := newTestClient(t, rec).Landmarks(context.Background(), testImage)
	require.Error(t, err)
	assert.Equal(t, FallbackLandmarks(), got)
	assert.Equal(t, []model.Landmark{{Type: "fallback", X: 400, Y: 175, AnomalyScore: 0.5}}, got)
	assert.Len(t, rec.encodings, 3)
	assert.Contains(t, err.Error(), "json_image")
}

func TestTransportErrorsHideCredentials(t *testing.T) {
	c := NewClient(config.FaceConfig{
		LandmarkURL: "http://127.0.0.1:1/landmarks",
		QualityURL:  "http://127.0.0.1:1/quality",
		APIKey:      "key-1",
		APISecret:   "TOPSECRET",
		Timeout:     time.Second,
	}, logger.Discard())

	_, err := c.Landmarks(context.Background(), testImage)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:1/landmarks")
	assert.NotContains(t, err.Error(), "TOPSECRET")
	assert.NotContains(t, err.Error(), "key-1")

	_, err = c.Quality(context.Background(), testImage)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "TOPSECRET")
	assert.NotContains(t, err.Error(), "key-1")
}

func TestLandmarks_StopsWhenContextCancelled(t *testing.T) {
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := newTestClient(t, rec).Landmarks(ctx, testImage)
	require.Error(t, err)
	assert.Equal(t, FallbackLandmarks(), got)
	assert.Empty(t, rec.encodings)
}

func TestDecodeLandmarks(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []model.Landmark
	}{
		{
			name: "entries without coordinates dropped",
			body: `{"landmarks":[{"type":"left_eye","x":1},{"type":"right_eye","x":2,"y":3},{"type":"nose_tip","y":4}]}`,
			want: []model.Landmark{{Type: "right_eye", X: 2, Y: 3}},
		},
		{
			name: "face map flattened in name order",
			body: `{"faces":[{"landmark":{"right_eye_center":{"x":180,"y":100},"nose_tip":{"x":140,"y":160},"left_eye_center":{"x":100,"y":100}}}]}`,
			want: []model.Landmark{
				{Type: "left_eye_center", X: 100, Y: 100},
				{Type: "nose_tip", X: 140, Y: 160},
				{Type: "right_eye_center", X: 180, Y: 100},
			},
		},
		{
			name: "no faces",
			body: `{"faces":[]}`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeLandmarks([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := decodeLandmarks([]byte("not json"))
	assert.Error(t, err)
}

func TestQuality_FirstPositiveWins(t *testing.T) {
	rec := &recorder{replies: []reply{
		{status: 200, body: `{"quality":0}`},
		{status: 200, body: `{"faces":[{"attributes":{"facequality":{"value":87.5,"threshold":70.1}}}]}`},
		{status: 200, body: `{"quality":99}`},
	}}

	got, err := newTestClient(t, rec).Quality(context.Background(), testImage)
	require.NoError(t, err)
	assert.InDelta(t, 87.5, got, 1e-9)
	assert.Equal(t, []string{"json:image", "json:image_base64"}, rec.encodings)
}

func TestQuality_AllCandidatesTried(t *testing.T) {
	rec := &recorder{replies: []reply{
		{status: 500, body: `oops`},
		{status: 200, body: `{"quality":-3}`},
		{status: 200, body: `{"quality":42}`},
	}}

	got, err := newTestClient(t, rec).Quality(context.Background(), testImage)
	require.NoError(t, err)
	assert.InDelta(t, 42, got, 1e-9)
	assert.Equal(t, []string{"json:image", "json:image_base64", "json:img"}, rec.encodings)
}

func TestQuality_ZeroWhenNothingPositive(t *testing.T) {
	rec := &recorder{replies: []reply{
		{status: 200, body: `{}`},
		{status: 200, body: `{"quality":0}`},
		{status: 404, body: `{}`},
	}}

	got, err := newTestClient(t, rec).Quality(context.Background(), testImage)
	require.Error(t, err)
	assert.Zero(t, got)
	assert.Len(t, rec.encodings, 3)
}

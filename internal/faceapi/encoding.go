package faceapi

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"mime/multipart"
	"net/url"
	"slices"

	"github.com/fakemeh/fakemeh-api/internal/model"
)

// candidate is one request encoding an endpoint may accept.
type candidate struct {
	name  string
	build func(image []byte) (io.Reader, string, error)
}

// landmarkCandidates are tried in this order.
var landmarkCandidates = []candidate{
	{name: "multipart_image_file", build: multipartFile("image_file")},
	{name: "form_image_base64", build: formBase64("image_base64")},
	{name: "json_image", build: jsonBase64(func(b64 string) any {
		return map[string]string{"image": b64}
	})},
}

// qualityCandidates are tried in this order.
var qualityCandidates = []candidate{
	{name: "json_image", build: jsonBase64(func(b64 string) any {
		return map[string]string{"image": b64}
	})},
	{name: "json_image_base64", build: jsonBase64(func(b64 string) any {
		return map[string]string{"image_base64": b64}
	})},
	{name: "json_img_facequality", build: jsonBase64(func(b64 string) any {
		return map[string]string{"img": b64, "return_attributes": "facequality"}
	})},
}

func multipartFile(field string) func([]byte) (io.Reader, string, error) {
	return func(image []byte) (io.Reader, string, error) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile(field, "image.jpg")
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(image); err != nil {
			return nil, "", err
		}
		if err := mw.Close(); err != nil {
			return nil, "", err
		}
		return &buf, mw.FormDataContentType(), nil
	}
}

func formBase64(field string) func([]byte) (io.Reader, string, error) {
	return func(image []byte) (io.Reader, string, error) {
		form := url.Values{}
		form.Set(field, base64.StdEncoding.EncodeToString(image))
		return bytes.NewBufferString(form.Encode()), "application/x-www-form-urlencoded", nil
	}
}

func jsonBase64(shape func(b64 string) any) func([]byte) (io.Reader, string, error) {
	return func(image []byte) (io.Reader, string, error) {
		data, err := json.Marshal(shape(base64.StdEncoding.EncodeToString(image)))
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

type point struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

type namedPoint struct {
	Type string `json:"type"`
	point
}

type faceResponse struct {
	Landmarks []namedPoint `json:"landmarks"`
	Quality   *float64     `json:"quality"`
	Faces     []struct {
		Landmark   map[string]point `json:"landmark"`
		Attributes struct {
			FaceQuality *struct {
				Value float64 `json:"value"`
			} `json:"facequality"`
		} `json:"attributes"`
	} `json:"faces"`
}

// decodeLandmarks accepts either a flat "landmarks" list or a
// faces[0].landmark map. Map entries come back in name order. Points without
// both coordinates are dropped.
func decodeLandmarks(body []byte) ([]model.Landmark, error) {
	var resp faceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode landmarks: %w", err)
	}

	var out []model.Landmark
	if len(resp.Landmarks) > 0 {
		for _, p := range resp.Landmarks {
			if p.X == nil || p.Y == nil {
				continue
			}
			out = append(out, model.Landmark{Type: p.Type, X: *p.X, Y: *p.Y})
		}
		return out, nil
	}

	if len(resp.Faces) == 0 {
		return nil, nil
	}
	for _, name := range slices.Sorted(maps.Keys(resp.Faces[0].Landmark)) {
		p := resp.Faces[0].Landmark[name]
		if p.X == nil || p.Y == nil {
			continue
		}
		out = append(out, model.Landmark{Type: name, X: *p.X, Y: *p.Y})
	}
	return out, nil
}

// decodeQuality reads "quality" or faces[0].attributes.facequality.value.
func decodeQuality(body []byte) (float64, error) {
	var resp faceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode quality: %w", err)
	}
	if resp.Quality != nil && *resp.Quality > 0 {
		return *resp.Quality, nil
	}
	if len(resp.Faces) > 0 && resp.Faces[0].Attributes.FaceQuality != nil {
		return resp.Faces[0].Attributes.FaceQuality.Value, nil
	}
	return 0, nil
}

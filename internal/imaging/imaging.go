// Package imaging validates uploaded images and re-encodes them for the face
// service.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif" // registered for Decode
	"image/jpeg"
	"image/png"
	"math"

	_ "golang.org/x/image/bmp"  // registered for Decode
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // registered for Decode
	_ "golang.org/x/image/webp" // registered for Decode
)

// JPEGQuality is the encoder quality used by NormalizeJPEG.
const JPEGQuality = 90

var errEmptyImage = errors.New("imaging: empty image data")

// Decode decodes data in any registered format and returns the image and
// its format name.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", errEmptyImage
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("imaging: decode: %w", err)
	}
	return img, format, nil
}

// Normalized is a re-encoded JPEG together with the factors that relate its
// pixels to the source image.
type Normalized struct {
	Data []byte
	// ScaleX and ScaleY are output pixels per source pixel, 1 when the
	// image was not resized.
	ScaleX float64
	ScaleY float64
}

// ToSource maps a point in the normalized image back onto the source image.
func (n Normalized) ToSource(x, y float64) (float64, float64) {
	if n.ScaleX <= 0 || n.ScaleY <= 0 {
		return x, y
	}
	return x / n.ScaleX, y / n.ScaleY
}

// NormalizeJPEG decodes data, downscales it to fit within maxSide×maxSide
// (keeping aspect ratio, maxSide <= 0 disables resizing), flattens any
// transparency onto white and encodes it as a baseline JPEG.
func NormalizeJPEG(data []byte, maxSide int) (Normalized, error) {
	src, _, err := Decode(data)
	if err != nil {
		return Normalized{}, err
	}

	img := flatten(resizeToFit(src, maxSide, maxSide))

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return Normalized{}, fmt.Errorf("imaging: encode jpeg: %w", err)
	}

	out := Normalized{Data: buf.Bytes(), ScaleX: 1, ScaleY: 1}
	if sw, sh := src.Bounds().Dx(), src.Bounds().Dy(); sw > 0 && sh > 0 {
		out.ScaleX = float64(img.Bounds().Dx()) / float64(sw)
		out.ScaleY = float64(img.Bounds().Dy()) / float64(sh)
	}
	return out, nil
}

// Dimensions reads the width and height of an encoded image without decoding
// its pixels.
func Dimensions(data []byte) (int, int, error) {
	if len(data) == 0 {
		return 0, 0, errEmptyImage
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("imaging: decode config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// EncodePNG encodes img losslessly, which is what OCR engines prefer.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("imaging: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// resizeToFit scales src to fit within maxW×maxH (keeping aspect ratio).
// Images already small enough are returned unchanged.
func resizeToFit(src image.Image, maxW, maxH int) image.Image {
	if maxW <= 0 || maxH <= 0 {
		return src
	}
	bw := src.Bounds().Dx()
	bh := src.Bounds().Dy()
	if bw == 0 || bh == 0 {
		return src
	}

	scale := math.Min(float64(maxW)/float64(bw), float64(maxH)/float64(bh))
	if scale >= 1.0 {
		return src
	}
	w := int(math.Max(1, math.Round(float64(bw)*scale)))
	h := int(math.Max(1, math.Round(float64(bh)*scale)))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// CatmullRom = high quality, good for photos/faces
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}

// flatten composites src over an opaque white background so JPEG encoding
// does not turn transparent pixels black.
func flatten(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}

package claim

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os/exec"
	"strings"

	"github.com/fakemeh/fakemeh-api/internal/imaging"
	"github.com/fakemeh/fakemeh-api/internal/platform/config"
)

// Tesseract runs the tesseract CLI, feeding the image on stdin as PNG.
type Tesseract struct {
	path     string
	language string
}

// NewTesseract returns a recognizer for the configured binary and language.
func NewTesseract(cfg config.OCRConfig) *Tesseract {
	path := cfg.TesseractPath
	if path == "" {
		path = "tesseract"
	}
	lang := cfg.Language
	if lang == "" {
		lang = "eng"
	}
	return &Tesseract{path: path, language: lang}
}

// Recognize returns the raw text tesseract prints for img.
func (t *Tesseract) Recognize(ctx context.Context, img image.Image) (string, error) {
	data, err := imaging.EncodePNG(img)
	if err != nil {
		return "", err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.path, "stdin", "stdout", "-l", t.language)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("tesseract: %w: %s", err, msg)
		}
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return stdout.String(), nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultSightengineURL = "https://api.sightengine.com/1.0/check.json"
	defaultFaceDetectURL  = "https://api-us.faceplusplus.com/facepp/v3/detect"
	defaultFactCheckURL   = "https://factchecktools.googleapis.com/v1alpha1/claims:search"
)

var (
	errInvalidPort         = errors.New("config: invalid PORT number")
	errMissingDeepfakeCred = errors.New("config: SIGHTENGINE_API_USER and SIGHTENGINE_API_SECRET are required")
	errNonPositiveTimeout  = errors.New("config: timeouts must be positive")
	errUploadLimit         = errors.New("config: MAX_UPLOAD_BYTES must be at least 1024")
	errRateLimit           = errors.New("config: RATE_LIMIT_RPS must be >= 0 and RATE_LIMIT_BURST >= 1")
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port           string
	LogLevel       string
	AnalyzeTimeout time.Duration
	MaxUploadBytes int64

	Deepfake  DeepfakeConfig
	Face      FaceConfig
	FactCheck FactCheckConfig
	OCR       OCRConfig

	RateLimitRPS      float64
	RateLimitBurst    int
	AllowPrivateFetch bool
}

// DeepfakeConfig configures the Sightengine client.
type DeepfakeConfig struct {
	URL       string
	APIUser   string
	APISecret string
	Timeout   time.Duration
}

// FaceConfig configures the landmark and quality endpoints.
type FaceConfig struct {
	LandmarkURL string
	QualityURL  string
	APIKey      string
	APISecret   string
	Timeout     time.Duration
}

// FactCheckConfig configures the Google Fact Check Tools client.
// An empty APIKey disables fact checking.
type FactCheckConfig struct {
	URL          string
	APIKey       string
	LanguageCode string
	Timeout      time.Duration
}

// OCRConfig configures the tesseract text recognizer.
type OCRConfig struct {
	TesseractPath string
	Language      string
}

// Load reads configuration from a .env file (if present) and environment
// variables with sensible defaults.
func Load() (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := Config{
		Port:           getEnv("PORT", "8080"),
		LogLevel:       getEnv("LOG_LEVEL", "INFO"),
		AnalyzeTimeout: getEnvAsDuration("ANALYZE_TIMEOUT", 60*time.Second),
		MaxUploadBytes: int64(getEnvAsInt("MAX_UPLOAD_BYTES", 10<<20)),
		Deepfake: DeepfakeConfig{
			URL:       getEnv("SIGHTENGINE_URL", defaultSightengineURL),
			APIUser:   os.Getenv("SIGHTENGINE_API_USER"),
			APISecret: os.Getenv("SIGHTENGINE_API_SECRET"),
			Timeout:   getEnvAsDuration("SIGHTENGINE_TIMEOUT", 15*time.Second),
		},
		Face: FaceConfig{
			LandmarkURL: getEnv("FACE_LANDMARK_URL", defaultFaceDetectURL),
			QualityURL:  getEnv("FACE_QUALITY_URL", defaultFaceDetectURL),
			APIKey:      os.Getenv("FACE_API_KEY"),
			APISecret:   os.Getenv("FACE_API_SECRET"),
			Timeout:     getEnvAsDuration("FACE_API_TIMEOUT", 10*time.Second),
		},
		FactCheck: FactCheckConfig{
			URL:          getEnv("FACTCHECK_URL", defaultFactCheckURL),
			APIKey:       os.Getenv("GOOGLE_API_KEY"),
			LanguageCode: os.Getenv("FACTCHECK_LANGUAGE"),
			Timeout:      getEnvAsDuration("FACTCHECK_TIMEOUT", 8*time.Second),
		},
		OCR: OCRConfig{
			TesseractPath: getEnv("TESSERACT_PATH", "tesseract"),
			Language:      getEnv("OCR_LANGUAGE", "eng"),
		},
		RateLimitRPS:      getEnvAsFloat("RATE_LIMIT_RPS", 2),
		RateLimitBurst:    getEnvAsInt("RATE_LIMIT_BURST", 5),
		AllowPrivateFetch: getEnvAsBool("ALLOW_PRIVATE_FETCH", false),
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("%w: %q", errInvalidPort, c.Port)
	}

	if c.Deepfake.APIUser == "" || c.Deepfake.APISecret == "" {
		return errMissingDeepfakeCred
	}

	for name, d := range map[string]time.Duration{
		"ANALYZE_TIMEOUT":     c.AnalyzeTimeout,
		"SIGHTENGINE_TIMEOUT": c.Deepfake.Timeout,
		"FACE_API_TIMEOUT":    c.Face.Timeout,
		"FACTCHECK_TIMEOUT":   c.FactCheck.Timeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s=%s", errNonPositiveTimeout, name, d)
		}
	}

	if c.MaxUploadBytes < 1024 {
		return fmt.Errorf("%w: got %d", errUploadLimit, c.MaxUploadBytes)
	}

	if c.RateLimitRPS < 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("%w: got rps=%v burst=%d", errRateLimit, c.RateLimitRPS, c.RateLimitBurst)
	}

	return nil
}

// FactCheckEnabled reports whether a fact-check credential is configured.
func (c Config) FactCheckEnabled() bool {
	return c.FactCheck.APIKey != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

func getEnvAsFloat(key string, fallback float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback
	}
	return v
}

func getEnvAsBool(key string, fallback bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fallback
	}
	return v
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return v
}

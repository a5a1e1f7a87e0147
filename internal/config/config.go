package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the full service configuration, populated from the environment.
// Boot fails on validation errors; everything else has a usable default.
type Config struct {
	ListenAddr  string
	SecretKey   string
	CORSOrigins []string
	Mode        string
	Verbose     bool

	DatabaseURL       string
	IngestFallbackDir string

	ModelPath   string
	ModelSHA256 string
	WeightsPath string
	CatalogPath string

	TrancoBaseURL       string
	TrancoAPIKey        string
	TrancoAPIEmail      string
	TrancoRankThreshold int

	VirusTotalBaseURL    string
	VirusTotalAPIKey     string
	VirusTotalThreshold  int
	VTUncertaintyMin     int
	VTUncertaintyMax     int
	VirusTotalPerMinute  int
	RateLimitPerMinute   int
	CrawlerMaxConcurrent int
	CacheSize            int
}

// FromEnv loads an optional .env file and reads the environment into a
// validated Config.
func FromEnv() (*Config, error) {
	// Missing .env is fine; explicit environment always wins.
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:           envDefault("LISTEN_ADDR", ":8000"),
		SecretKey:            os.Getenv("SECRET_KEY"),
		Mode:                 envDefault("MODE", "auto"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		IngestFallbackDir:    envDefault("INGEST_FALLBACK_DIR", "data"),
		ModelPath:            os.Getenv("MODEL_PATH"),
		ModelSHA256:          os.Getenv("MODEL_SHA256"),
		WeightsPath:          os.Getenv("WEIGHTS_PATH"),
		CatalogPath:          os.Getenv("CATALOG_PATH"),
		TrancoBaseURL:        os.Getenv("TRANCO_BASE_URL"),
		TrancoAPIKey:         os.Getenv("TRANCO_API_KEY"),
		TrancoAPIEmail:       os.Getenv("TRANCO_API_EMAIL"),
		TrancoRankThreshold:  envInt("TRANCO_RANK_THRESHOLD", 100000),
		VirusTotalBaseURL:    os.Getenv("VIRUSTOTAL_BASE_URL"),
		VirusTotalAPIKey:     os.Getenv("VIRUSTOTAL_API_KEY"),
		VirusTotalThreshold:  envInt("VIRUSTOTAL_THRESHOLD", 3),
		VTUncertaintyMin:     envInt("VIRUSTOTAL_UNCERTAINTY_MIN", 30),
		VTUncertaintyMax:     envInt("VIRUSTOTAL_UNCERTAINTY_MAX", 70),
		VirusTotalPerMinute:  envInt("VIRUSTOTAL_PER_MINUTE", 4),
		RateLimitPerMinute:   envInt("RATE_LIMIT_PER_MINUTE", 30),
		CrawlerMaxConcurrent: envInt("CRAWLER_MAX_CONCURRENT", 2),
		CacheSize:            envInt("CACHE_SIZE", 4096),
		Verbose:              envBool("VERBOSE"),
	}
	if v := strings.TrimSpace(os.Getenv("CORS_ORIGINS")); v != "" {
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, s)
			}
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the boot-time requirements.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("SECRET_KEY is required and has no default")
	}
	for _, o := range c.CORSOrigins {
		if o == "*" {
			return errors.New("CORS_ORIGINS must list explicit origins, wildcard is forbidden")
		}
	}
	if c.VTUncertaintyMin > c.VTUncertaintyMax {
		return fmt.Errorf("uncertainty window [%d,%d] is inverted", c.VTUncertaintyMin, c.VTUncertaintyMax)
	}
	switch c.Mode {
	case "auto", "online", "offline":
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	return nil
}

func envDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

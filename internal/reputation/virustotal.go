package reputation

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/alerta-link/alertalink/internal/cache"
)

const (
	vtDefaultBaseURL = "https://www.virustotal.com/api/v3"

	vtTimeout = 4 * time.Second
	vtTTL     = 6 * time.Hour
	vtNegTTL  = time.Hour
)

// ErrQuotaExhausted marks a lookup skipped because the shared token bucket
// was empty. The call is never made and nothing is cached.
var ErrQuotaExhausted = errors.New("virustotal quota exhausted")

// VTReport is the multi-engine aggregate for one URL. Analyzed=false means
// VirusTotal has never scanned the URL.
type VTReport struct {
	Analyzed     bool     `json:"analyzed"`
	Malicious    int      `json:"malicious"`
	Suspicious   int      `json:"suspicious"`
	Harmless     int      `json:"harmless"`
	Undetected   int      `json:"undetected"`
	TotalEngines int      `json:"total_engines"`
	ThreatNames  []string `json:"threat_names,omitempty"`
}

// VTClient queries the VirusTotal v3 URL endpoint behind a shared quota
// bucket (default 4 calls per minute) and a 6h/1h cache keyed by the
// SHA-256 of the normalized URL.
type VTClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Log        zerolog.Logger

	limiter *rate.Limiter
	cache   *cache.Store[VTReport]
}

// NewVTClient builds a client. perMinute caps upstream calls; zero uses the
// default of 4.
func NewVTClient(baseURL, apiKey string, perMinute, cacheSize int, log zerolog.Logger) *VTClient {
	if baseURL == "" {
		baseURL = vtDefaultBaseURL
	}
	if perMinute <= 0 {
		perMinute = 4
	}
	return &VTClient{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: vtTimeout},
		Log:        log,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		cache:      cache.New[VTReport](cacheSize, vtTTL, vtNegTTL),
	}
}

// Enabled reports whether an API key is configured.
func (c *VTClient) Enabled() bool {
	return c.APIKey != ""
}

// CacheKey returns the lookup key for a normalized URL.
func CacheKey(normalizedURL string) string {
	sum := sha256.Sum256([]byte(normalizedURL))
	return hex.EncodeToString(sum[:])
}

// Lookup returns the aggregate for a normalized URL. consulted is false on
// missing key, empty quota bucket, timeout or transport failure; cached
// entries bypass the bucket entirely.
func (c *VTClient) Lookup(ctx context.Context, normalizedURL string) (VTReport, bool) {
	if !c.Enabled() {
		return VTReport{}, false
	}
	ent, err := c.cache.GetOrFetch(ctx, CacheKey(normalizedURL), "virustotal", func(ctx context.Context) (VTReport, bool, error) {
		if !c.limiter.Allow() {
			return VTReport{}, false, ErrQuotaExhausted
		}
		return c.fetch(ctx, normalizedURL)
	})
	if err != nil {
		c.Log.Debug().Err(err).Msg("virustotal lookup unavailable")
		return VTReport{}, false
	}
	if !ent.OK {
		return VTReport{}, true
	}
	return ent.Value, true
}

func (c *VTClient) fetch(ctx context.Context, rawURL string) (VTReport, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, vtTimeout)
	defer cancel()

	id := base64.RawURLEncoding.EncodeToString([]byte(rawURL))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/urls/"+id, nil)
	if err != nil {
		return VTReport{}, false, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("x-apikey", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return VTReport{}, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		// VirusTotal has never analyzed this URL.
		return VTReport{}, false, nil
	case http.StatusTooManyRequests:
		return VTReport{}, false, ErrQuotaExhausted
	default:
		return VTReport{}, false, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var payload struct {
		Data struct {
			Attributes struct {
				LastAnalysisStats struct {
					Harmless   int `json:"harmless"`
					Malicious  int `json:"malicious"`
					Suspicious int `json:"suspicious"`
					Undetected int `json:"undetected"`
					Timeout    int `json:"timeout"`
				} `json:"last_analysis_stats"`
				LastAnalysisResults map[string]struct {
					Category string `json:"category"`
					Result   string `json:"result"`
				} `json:"last_analysis_results"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&payload); err != nil {
		return VTReport{}, false, fmt.Errorf("decode: %w", err)
	}

	stats := payload.Data.Attributes.LastAnalysisStats
	rep := VTReport{
		Analyzed:     true,
		Malicious:    stats.Malicious,
		Suspicious:   stats.Suspicious,
		Harmless:     stats.Harmless,
		Undetected:   stats.Undetected,
		TotalEngines: stats.Harmless + stats.Malicious + stats.Suspicious + stats.Undetected + stats.Timeout,
	}
	for _, r := range payload.Data.Attributes.LastAnalysisResults {
		if r.Category == "malicious" && r.Result != "" {
			rep.ThreatNames = append(rep.ThreatNames, r.Result)
			if len(rep.ThreatNames) >= 5 {
				break
			}
		}
	}
	return rep, true, nil
}

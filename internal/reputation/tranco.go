package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/alerta-link/alertalink/internal/cache"
)

const (
	trancoDefaultBaseURL = "https://tranco-list.eu/api"

	trancoTimeout = 2 * time.Second
	trancoTTL     = 7 * 24 * time.Hour
	trancoNegTTL  = 24 * time.Hour
)

// TrancoInfo is the top-list payload for one registrable domain. Rank 0
// means the domain is not ranked at all.
type TrancoInfo struct {
	Rank   int  `json:"rank"`
	InTopK bool `json:"in_top_k"`
}

// TrancoClient resolves domain popularity ranks, cache-through with a hard
// per-call timeout. Failures surface as not-consulted, never as errors.
type TrancoClient struct {
	BaseURL    string
	APIKey     string
	APIEmail   string
	Threshold  int
	HTTPClient *http.Client
	Log        zerolog.Logger

	cache *cache.Store[TrancoInfo]
}

// NewTrancoClient builds a client with the standard TTLs (7d positive, 1d
// negative). threshold is the top-k membership cutoff.
func NewTrancoClient(baseURL, apiKey, apiEmail string, threshold, cacheSize int, log zerolog.Logger) *TrancoClient {
	if baseURL == "" {
		baseURL = trancoDefaultBaseURL
	}
	if threshold <= 0 {
		threshold = 100000
	}
	return &TrancoClient{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		APIKey:     apiKey,
		APIEmail:   apiEmail,
		Threshold:  threshold,
		HTTPClient: &http.Client{Timeout: trancoTimeout},
		Log:        log,
		cache:      cache.New[TrancoInfo](cacheSize, trancoTTL, trancoNegTTL),
	}
}

// Lookup returns the rank payload for a registrable domain. consulted is
// false only when the upstream could not be reached in time; an unranked
// domain is a consulted, negative result.
func (c *TrancoClient) Lookup(ctx context.Context, domain string) (TrancoInfo, bool) {
	key := strings.ToLower(domain)
	ent, err := c.cache.GetOrFetch(ctx, key, "tranco", func(ctx context.Context) (TrancoInfo, bool, error) {
		return c.fetch(ctx, key)
	})
	if err != nil {
		c.Log.Debug().Err(err).Str("domain", key).Msg("tranco lookup unavailable")
		return TrancoInfo{}, false
	}
	return ent.Value, true
}

func (c *TrancoClient) fetch(ctx context.Context, domain string) (TrancoInfo, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, trancoTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/ranks/domain/"+domain, nil)
	if err != nil {
		return TrancoInfo{}, false, fmt.Errorf("new request: %w", err)
	}
	if c.APIEmail != "" && c.APIKey != "" {
		req.SetBasicAuth(c.APIEmail, c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return TrancoInfo{}, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return TrancoInfo{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return TrancoInfo{}, false, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var payload struct {
		Ranks []struct {
			Date string `json:"date"`
			Rank int    `json:"rank"`
		} `json:"ranks"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return TrancoInfo{}, false, fmt.Errorf("decode: %w", err)
	}
	if len(payload.Ranks) == 0 || payload.Ranks[0].Rank <= 0 {
		return TrancoInfo{}, false, nil
	}
	rank := payload.Ranks[0].Rank
	return TrancoInfo{Rank: rank, InTopK: rank <= c.Threshold}, true, nil
}

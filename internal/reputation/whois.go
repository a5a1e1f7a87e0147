package reputation

import (
	"context"
	"strings"
	"time"

	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
	"github.com/rs/zerolog"

	"github.com/alerta-link/alertalink/internal/cache"
)

const (
	whoisTimeout = 3 * time.Second
	whoisTTL     = 24 * time.Hour
	whoisNegTTL  = 6 * time.Hour
)

// WhoisInfo is the registration-age payload. HasAge=false means the
// registry answered but gave no usable creation date.
type WhoisInfo struct {
	AgeDays   int       `json:"age_days"`
	HasAge    bool      `json:"has_age"`
	Registrar string    `json:"registrar,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// WhoisClient retrieves domain registration ages, cache-through (24h
// positive, 6h negative) with a hard 3s timeout per upstream query.
type WhoisClient struct {
	Log zerolog.Logger

	cache *cache.Store[WhoisInfo]
	query func(ctx context.Context, domain string) (string, error)
	now   func() time.Time
}

// NewWhoisClient builds a client backed by the system WHOIS protocol.
func NewWhoisClient(cacheSize int, log zerolog.Logger) *WhoisClient {
	c := &WhoisClient{
		Log:   log,
		cache: cache.New[WhoisInfo](cacheSize, whoisTTL, whoisNegTTL),
		now:   time.Now,
	}
	c.query = c.rawQuery
	return c
}

func (c *WhoisClient) rawQuery(ctx context.Context, domain string) (string, error) {
	wc := whois.NewClient()
	wc.SetTimeout(whoisTimeout)

	type result struct {
		raw string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		raw, err := wc.Whois(domain)
		ch <- result{raw, err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		return r.raw, r.err
	}
}

// Lookup returns the age payload for a registrable domain. consulted is
// false only when the WHOIS query itself failed; an answer without a
// creation date is a consulted, negative result.
func (c *WhoisClient) Lookup(ctx context.Context, domain string) (WhoisInfo, bool) {
	key := strings.ToLower(domain)
	ent, err := c.cache.GetOrFetch(ctx, key, "whois", func(ctx context.Context) (WhoisInfo, bool, error) {
		ctx, cancel := context.WithTimeout(ctx, whoisTimeout)
		defer cancel()

		raw, err := c.query(ctx, key)
		if err != nil {
			return WhoisInfo{}, false, err
		}
		parsed, err := whoisparser.Parse(raw)
		if err != nil {
			// Unparseable or unregistered domains are negative results.
			return WhoisInfo{}, false, nil
		}
		info := WhoisInfo{}
		if parsed.Registrar != nil {
			info.Registrar = parsed.Registrar.Name
		}
		if parsed.Domain != nil && parsed.Domain.CreatedDateInTime != nil {
			info.CreatedAt = *parsed.Domain.CreatedDateInTime
			info.AgeDays = int(c.now().Sub(info.CreatedAt).Hours() / 24)
			info.HasAge = true
			return info, true, nil
		}
		return WhoisInfo{}, false, nil
	})
	if err != nil {
		c.Log.Debug().Err(err).Str("domain", key).Msg("whois lookup unavailable")
		return WhoisInfo{}, false
	}
	return ent.Value, true
}

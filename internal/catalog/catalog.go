package catalog

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog holds the static reference data the scoring rules consult:
// impersonated brands with their canonical domains, suspicious keywords,
// risky TLDs, shortener and paste-service domains, hosting platforms and
// the trusted-domain allowlist. Loaded once at boot, read-only afterward.
type Catalog struct {
	// Brands maps a brand token to its canonical registrable domain.
	Brands map[string]string `yaml:"brands"`

	SuspiciousWords  []string `yaml:"suspicious_words"`
	RiskyTLDs        []string `yaml:"risky_tlds"`
	Shorteners       []string `yaml:"shorteners"`
	PasteServices    []string `yaml:"paste_services"`
	HostingPlatforms []string `yaml:"hosting_platforms"`
	TrustedDomains   []string `yaml:"trusted_domains"`

	riskyTLDSet map[string]struct{}
	brandNames  []string
}

// Default returns the compiled-in catalog.
func Default() *Catalog {
	c := &Catalog{
		Brands: map[string]string{
			"paypal":    "paypal.com",
			"netflix":   "netflix.com",
			"amazon":    "amazon.com",
			"apple":     "apple.com",
			"microsoft": "microsoft.com",
			"google":    "google.com",
			"facebook":  "facebook.com",
			"instagram": "instagram.com",
			"whatsapp":  "whatsapp.com",
			"twitter":   "twitter.com",
			"linkedin":  "linkedin.com",
			"dropbox":   "dropbox.com",
			"spotify":   "spotify.com",
			"ebay":      "ebay.com",
			"walmart":   "walmart.com",
			"adobe":     "adobe.com",
			"zoom":      "zoom.us",
			"slack":     "slack.com",
			"github":    "github.com",
			"youtube":   "youtube.com",
			"tiktok":    "tiktok.com",
			"reddit":    "reddit.com",
			"twitch":    "twitch.tv",
			"discord":   "discord.com",
			"telegram":  "telegram.org",
		},
		SuspiciousWords: []string{
			"login", "signin", "verify", "update", "secure", "account", "bank",
			"free", "gift", "password", "confirm", "suspend", "unusual", "expire",
			"urgent", "immediately", "click", "validate", "authenticate", "credential",
			"wallet", "alert", "locked", "unlock",
			"crack", "keygen", "serial", "activator", "loader", "kms",
			"warez", "nulled", "cracked", "torrent", "download-free",
			"full-version", "license-key", "product-key", "activation", "bypass",
		},
		RiskyTLDs: []string{
			"xyz", "top", "club", "online", "site", "website", "space", "tech",
			"info", "biz", "cc", "tk", "ml", "ga", "cf", "gq", "pw", "ws",
			"buzz", "surf", "icu", "monster", "cam", "work", "click", "link",
		},
		Shorteners: []string{
			"bit.ly", "tinyurl.com", "goo.gl", "t.co", "ow.ly", "is.gd", "buff.ly",
			"adf.ly", "bit.do", "mcaf.ee", "su.pr", "yourls.org", "rebrand.ly",
			"kutt.it", "shorturl.at", "tiny.cc", "bc.vc", "j.mp",
			"v.gd", "x.co", "u.to", "cutt.ly", "rb.gy", "clck.ru",
			"hyperurl.co", "urlz.fr", "short.io", "soo.gd", "s.id", "surl.li",
		},
		PasteServices: []string{
			"pastebin.com", "paste.ee", "pastecode.io", "dpaste.org", "paste.mozilla.org",
			"hastebin.com", "ghostbin.com", "paste2.org", "pastebin.pl", "paste.rs",
			"rentry.co", "rentry.org", "privatebin.net", "controlc.com", "justpaste.it",
		},
		HostingPlatforms: []string{
			"appspot.com", "github.io", "githubusercontent.com", "netlify.app",
			"vercel.app", "herokuapp.com", "firebaseapp.com", "web.app",
			"pages.dev", "workers.dev", "azurewebsites.net", "cloudfront.net",
			"s3.amazonaws.com", "blogspot.com", "wordpress.com", "wixsite.com",
			"weebly.com", "squarespace.com", "glitch.me", "repl.co", "surge.sh",
			"fly.dev", "deno.dev", "ngrok.io", "trycloudflare.com",
		},
		TrustedDomains: []string{
			"google.com", "youtube.com", "facebook.com", "amazon.com", "microsoft.com",
			"apple.com", "netflix.com", "twitter.com", "instagram.com", "linkedin.com",
			"github.com", "stackoverflow.com", "wikipedia.org", "reddit.com",
			"paypal.com", "dropbox.com", "spotify.com", "zoom.us", "slack.com",
			"whatsapp.com", "telegram.org", "messenger.com",
			"gmail.com", "outlook.com", "live.com", "hotmail.com",
			"bbc.com", "cnn.com", "nytimes.com", "duckduckgo.com",
		},
	}
	c.index()
	return c
}

// Load returns the default catalog merged with overrides from a YAML file.
// An empty path returns the defaults unchanged. Only non-empty override
// sections replace their default counterpart.
func Load(path string) (*Catalog, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var o Catalog
	if err := yaml.Unmarshal(b, &o); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(o.Brands) > 0 {
		c.Brands = o.Brands
	}
	if len(o.SuspiciousWords) > 0 {
		c.SuspiciousWords = o.SuspiciousWords
	}
	if len(o.RiskyTLDs) > 0 {
		c.RiskyTLDs = o.RiskyTLDs
	}
	if len(o.Shorteners) > 0 {
		c.Shorteners = o.Shorteners
	}
	if len(o.PasteServices) > 0 {
		c.PasteServices = o.PasteServices
	}
	if len(o.HostingPlatforms) > 0 {
		c.HostingPlatforms = o.HostingPlatforms
	}
	if len(o.TrustedDomains) > 0 {
		c.TrustedDomains = o.TrustedDomains
	}
	c.index()
	return c, nil
}

func (c *Catalog) index() {
	c.riskyTLDSet = make(map[string]struct{}, len(c.RiskyTLDs))
	for _, t := range c.RiskyTLDs {
		c.riskyTLDSet[strings.TrimPrefix(strings.ToLower(t), ".")] = struct{}{}
	}
	c.brandNames = make([]string, 0, len(c.Brands))
	for b := range c.Brands {
		c.brandNames = append(c.brandNames, b)
	}
	sort.Strings(c.brandNames)
}

// BrandNames returns the brand tokens in a fixed sorted order. Scanners must
// iterate this instead of the Brands map so repeated runs report the same
// brand when several match.
func (c *Catalog) BrandNames() []string {
	return c.brandNames
}

// hostMatches reports whether host equals d or is a subdomain of d.
// Substring matches are deliberately not enough: "microsoft.com"
// contains "t.co" but is not the shortener.
func hostMatches(host, d string) bool {
	return host == d || strings.HasSuffix(host, "."+d)
}

func matchList(host string, list []string) (string, bool) {
	for _, d := range list {
		if hostMatches(host, d) {
			return d, true
		}
	}
	return "", false
}

// Shortener reports whether host is a known URL shortener and which one.
func (c *Catalog) Shortener(host string) (string, bool) {
	return matchList(host, c.Shorteners)
}

// PasteService reports whether host is a known paste service.
func (c *Catalog) PasteService(host string) (string, bool) {
	return matchList(host, c.PasteServices)
}

// HostingPlatform reports whether host is a shared hosting platform where
// arbitrary users can publish content.
func (c *Catalog) HostingPlatform(host string) (string, bool) {
	return matchList(host, c.HostingPlatforms)
}

// Trusted reports whether host is on the trusted-domain allowlist.
func (c *Catalog) Trusted(host string) (string, bool) {
	return matchList(host, c.TrustedDomains)
}

// RiskyTLD reports whether the effective TLD is in the risky set.
func (c *Catalog) RiskyTLD(tld string) bool {
	_, ok := c.riskyTLDSet[strings.TrimPrefix(strings.ToLower(tld), ".")]
	return ok
}

// OfficialDomain returns the canonical domain for a brand token.
func (c *Catalog) OfficialDomain(brand string) (string, bool) {
	d, ok := c.Brands[brand]
	return d, ok
}

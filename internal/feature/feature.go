package feature

import (
	"math"
	"strings"

	"golang.org/x/net/idna"

	"github.com/alerta-link/alertalink/internal/catalog"
	"github.com/alerta-link/alertalink/internal/urlcheck"
)

// Vector is the fixed 24-field lexical/structural record consumed by the
// supervised model. Field order matters: it must match the artifact's
// feature-name list exactly, which Names() defines once.
type Vector struct {
	URLLength            int
	DomainLength         int
	PathLength           int
	NumDigits            int
	NumHyphens           int
	NumDots              int
	NumSubdomains        int
	Entropy              float64
	HasHTTPS             int
	HasPort              int
	HasAtSymbol          int
	ContainsIP           int
	HasPunycode          int
	ShortenerDetected    int
	PasteServiceDetected int
	HasSuspiciousWords   int
	TLDRisk              int
	ExcessiveSubdomains  int
	DigitRatio           float64
	NumParams            int
	SpecialChars         int
	InTranco             int
	TrancoRank           float64
	BrandImpersonation   int
}

var names = []string{
	"url_length", "domain_length", "path_length", "num_digits",
	"num_hyphens", "num_dots", "num_subdomains", "entropy",
	"has_https", "has_port", "has_at_symbol", "contains_ip",
	"has_punycode", "shortener_detected", "paste_service_detected",
	"has_suspicious_words", "tld_risk", "excessive_subdomains",
	"digit_ratio", "num_params", "special_chars",
	"in_tranco", "tranco_rank", "brand_impersonation",
}

// Names returns the canonical feature order.
func Names() []string {
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// Values returns the vector in canonical order for model input.
func (v Vector) Values() []float64 {
	return []float64{
		float64(v.URLLength), float64(v.DomainLength), float64(v.PathLength), float64(v.NumDigits),
		float64(v.NumHyphens), float64(v.NumDots), float64(v.NumSubdomains), v.Entropy,
		float64(v.HasHTTPS), float64(v.HasPort), float64(v.HasAtSymbol), float64(v.ContainsIP),
		float64(v.HasPunycode), float64(v.ShortenerDetected), float64(v.PasteServiceDetected),
		float64(v.HasSuspiciousWords), float64(v.TLDRisk), float64(v.ExcessiveSubdomains),
		v.DigitRatio, float64(v.NumParams), float64(v.SpecialChars),
		float64(v.InTranco), v.TrancoRank, float64(v.BrandImpersonation),
	}
}

// ApplyTranco fills the top-list placeholders once a lookup has run.
// The rank is normalized to [0,1] against the configured threshold.
func (v *Vector) ApplyTranco(rank, threshold int) {
	if rank <= 0 || threshold <= 0 {
		return
	}
	v.InTranco = 1
	r := 1 - float64(rank)/float64(threshold)
	if r < 0 {
		r = 0
	}
	v.TrancoRank = r
}

// Extract computes the feature vector from a normalized URL context.
// It is total and pure: any context Normalize accepted yields a finite
// vector, and equal inputs yield equal vectors. The in_tranco and
// tranco_rank placeholders stay zero until ApplyTranco.
func Extract(u *urlcheck.Context, cat *catalog.Catalog) Vector {
	raw := u.Normalized
	var v Vector

	v.URLLength = len(raw)
	v.DomainLength = len(u.Registrable)
	v.PathLength = len(u.Path)
	for _, c := range raw {
		switch {
		case c >= '0' && c <= '9':
			v.NumDigits++
		case c == '-':
			v.NumHyphens++
		case c == '.':
			v.NumDots++
		}
		if !isPlainURLChar(c) {
			v.SpecialChars++
		}
	}
	v.NumSubdomains = len(u.SubdomainLabels())
	v.Entropy = shannonEntropy(u.Host)
	if u.Scheme == "https" {
		v.HasHTTPS = 1
	}
	if u.Port != "" {
		v.HasPort = 1
	}
	if strings.Contains(raw, "@") {
		v.HasAtSymbol = 1
	}
	if u.IsIP {
		v.ContainsIP = 1
	}
	if u.Punycode {
		v.HasPunycode = 1
	}
	if _, ok := cat.Shortener(u.Host); ok {
		v.ShortenerDetected = 1
	}
	if _, ok := cat.PasteService(u.Host); ok {
		v.PasteServiceDetected = 1
	}
	v.HasSuspiciousWords = len(SuspiciousWords(u, cat))
	if cat.RiskyTLD(u.TLD) {
		v.TLDRisk = 1
	}
	if v.NumSubdomains > 3 {
		v.ExcessiveSubdomains = 1
	}
	if v.URLLength > 0 {
		v.DigitRatio = float64(v.NumDigits) / float64(v.URLLength)
	}
	v.NumParams = strings.Count(u.Query, "=")
	if _, ok := DetectBrandImpersonation(u, cat); ok {
		v.BrandImpersonation = 1
	}
	return v
}

// SuspiciousWords returns the catalog keywords found anywhere in the
// normalized URL. A brand keyword on its own official domain does not count.
func SuspiciousWords(u *urlcheck.Context, cat *catalog.Catalog) []string {
	lower := strings.ToLower(u.Normalized)
	var found []string
	for _, w := range cat.SuspiciousWords {
		if !strings.Contains(lower, w) {
			continue
		}
		if official, ok := cat.OfficialDomain(w); ok && u.Registrable == official {
			continue
		}
		found = append(found, w)
	}
	return found
}

// DetectBrandImpersonation reports the brand a host appears to imitate.
// A brand matches when its Damerau-Levenshtein similarity to the registrable
// second-level label, or to one of the label's hyphen-separated tokens, is at
// least 0.70 without being the exact registrable label, or when the brand
// shows up as a subdomain label left of the registrable domain
// (paypal.example.xyz). Punycode labels are compared in decoded form too.
func DetectBrandImpersonation(u *urlcheck.Context, cat *catalog.Catalog) (string, bool) {
	if u.IsIP {
		return "", false
	}
	label := u.SecondLevelLabel()
	if label == "" {
		return "", false
	}

	candidates := []string{label}
	candidates = append(candidates, strings.Split(label, "-")...)
	if u.Punycode {
		if decoded, err := idna.ToUnicode(u.Registrable); err == nil {
			if i := strings.IndexByte(decoded, '.'); i > 0 {
				d := decoded[:i]
				candidates = append(candidates, d)
				candidates = append(candidates, strings.Split(d, "-")...)
			}
		}
	}
	subLabels := u.SubdomainLabels()

	for _, brand := range cat.BrandNames() {
		official, _ := cat.OfficialDomain(brand)
		if u.Registrable == official || strings.HasSuffix(u.Host, "."+official) {
			continue
		}
		for _, c := range candidates {
			if c == label && c == brand {
				continue
			}
			if Similarity(brand, c) >= 0.70 {
				return brand, true
			}
		}
		for _, s := range subLabels {
			if s == brand {
				return brand, true
			}
		}
	}
	return "", false
}

func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	freq := make(map[rune]int)
	n := 0
	for _, c := range s {
		freq[c]++
		n++
	}
	var h float64
	for _, count := range freq {
		p := float64(count) / float64(n)
		h -= p * math.Log2(p)
	}
	return h
}

func isPlainURLChar(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '.', '/', ':', '?', '=', '&', '_', '-':
		return true
	}
	return false
}

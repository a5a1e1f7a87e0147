package predict

import (
	"fmt"
	"math"
	"strings"

	"github.com/alerta-link/alertalink/internal/catalog"
	"github.com/alerta-link/alertalink/internal/feature"
	"github.com/alerta-link/alertalink/internal/urlcheck"
)

// Base is the starting score of the heuristic predictor before any rule
// fires.
const Base = 15

// VTStats is the multi-engine verdict aggregate consumed by the external
// rules.
type VTStats struct {
	Malicious    int
	Suspicious   int
	Harmless     int
	TotalEngines int
	ThreatNames  []string
}

// Externals carries the optional reputation inputs. Zero value means no
// external source was consulted; only local rules apply then.
type Externals struct {
	TrancoConsulted bool
	InTranco        bool
	TrancoRank      int
	VT              *VTStats
	WhoisAgeDays    int
	WhoisHasAge     bool
}

// HeuristicPredictor evaluates the deterministic weighted-rule model. It is
// fully independent of the supervised model and always available.
type HeuristicPredictor struct {
	Catalog *catalog.Catalog
	Weights *Table
}

// Predict runs every rule whose predicate holds, starting from Base and
// clamping to [0,100]. With a zero Externals only local rules fire, which is
// the partial score the orchestrator fuses with the supervised model.
func (h *HeuristicPredictor) Predict(u *urlcheck.Context, v feature.Vector, ext Externals) (int, []Signal) {
	score := Base
	var signals []Signal
	add := func(s Signal) {
		signals = append(signals, s)
		score += s.Weight
	}

	if v.ContainsIP == 1 {
		add(Signal{
			ID: SigIPAsHost, Severity: SeverityHigh, Weight: h.Weights.Weight(SigIPAsHost),
			Evidence:    map[string]any{"ip": u.Host},
			Explanation: fmt.Sprintf("The URL uses a raw IP address (%s) instead of a domain name.", u.Host),
		})
	}
	if v.HasHTTPS == 0 {
		add(Signal{
			ID: SigNoHTTPS, Severity: SeverityMedium, Weight: h.Weights.Weight(SigNoHTTPS),
			Evidence:    map[string]any{},
			Explanation: "The URL does not use an encrypted HTTPS connection.",
		})
	}
	if v.BrandImpersonation == 1 {
		brand, _ := feature.DetectBrandImpersonation(u, h.Catalog)
		official, _ := h.Catalog.OfficialDomain(brand)
		add(Signal{
			ID: SigBrandImpersonation, Severity: SeverityHigh, Weight: h.Weights.Weight(SigBrandImpersonation),
			Evidence:    map[string]any{"brand": brand, "domain": u.Host, "official_domain": official},
			Explanation: fmt.Sprintf("The domain %q imitates %q; the official domain is %q.", u.Host, brand, official),
		})
	}
	if v.HasSuspiciousWords >= 1 {
		words := feature.SuspiciousWords(u, h.Catalog)
		sev := SeverityMedium
		if len(words) >= 3 {
			sev = SeverityHigh
		}
		add(Signal{
			ID: SigSuspiciousWords, Severity: sev, Weight: h.Weights.Weight(SigSuspiciousWords),
			Evidence:    map[string]any{"words": words, "count": len(words)},
			Explanation: fmt.Sprintf("The URL contains %d suspicious keywords: %s.", len(words), strings.Join(cap3(words), ", ")),
		})
	}
	if v.HasPunycode == 1 {
		add(Signal{
			ID: SigPunycode, Severity: SeverityHigh, Weight: h.Weights.Weight(SigPunycode),
			Evidence:    map[string]any{"domain": u.Host},
			Explanation: fmt.Sprintf("The domain %q uses punycode, which can disguise look-alike characters.", u.Host),
		})
	}
	if v.PasteServiceDetected == 1 {
		svc, _ := h.Catalog.PasteService(u.Host)
		add(Signal{
			ID: SigPasteService, Severity: SeverityMedium, Weight: h.Weights.Weight(SigPasteService),
			Evidence:    map[string]any{"service": svc},
			Explanation: fmt.Sprintf("The URL points at the paste service %q, a common malware distribution channel.", svc),
		})
	}
	if v.DigitRatio >= 0.30 {
		add(Signal{
			ID: SigHighDigitRatio, Severity: SeverityLow, Weight: h.Weights.Weight(SigHighDigitRatio),
			Evidence:    map[string]any{"ratio": round2(v.DigitRatio)},
			Explanation: "A large share of the URL consists of digits.",
		})
	}
	if v.Entropy >= 3.5 {
		add(Signal{
			ID: SigHighEntropy, Severity: SeverityLow, Weight: h.Weights.Weight(SigHighEntropy),
			Evidence:    map[string]any{"entropy": round2(v.Entropy)},
			Explanation: "The host looks randomly generated (high entropy).",
		})
	}
	if v.ShortenerDetected == 1 {
		short, _ := h.Catalog.Shortener(u.Host)
		add(Signal{
			ID: SigURLShortener, Severity: SeverityMedium, Weight: h.Weights.Weight(SigURLShortener),
			Evidence:    map[string]any{"shortener": short},
			Explanation: fmt.Sprintf("The URL goes through the shortener %q, hiding its real destination.", short),
		})
	}
	if v.HasAtSymbol == 1 {
		add(Signal{
			ID: SigAtSymbol, Severity: SeverityMedium, Weight: h.Weights.Weight(SigAtSymbol),
			Evidence:    map[string]any{},
			Explanation: "The URL contains an @ sign, which can mislead about the real destination.",
		})
	}
	if v.TLDRisk == 1 {
		add(Signal{
			ID: SigRiskyTLD, Severity: SeverityMedium, Weight: h.Weights.Weight(SigRiskyTLD),
			Evidence:    map[string]any{"tld": "." + u.TLD},
			Explanation: fmt.Sprintf("The domain uses .%s, a TLD with a high abuse rate.", u.TLD),
		})
	}
	if v.ExcessiveSubdomains == 1 {
		add(Signal{
			ID: SigExcessiveSubdomains, Severity: SeverityMedium, Weight: h.Weights.Weight(SigExcessiveSubdomains),
			Evidence:    map[string]any{"count": v.NumSubdomains},
			Explanation: "The URL has an unusual number of subdomains.",
		})
	}
	if v.URLLength > 100 {
		add(Signal{
			ID: SigLongURL, Severity: SeverityLow, Weight: h.Weights.Weight(SigLongURL),
			Evidence:    map[string]any{"length": v.URLLength},
			Explanation: "The URL is unusually long.",
		})
	}
	if platform, ok := h.Catalog.HostingPlatform(u.Host); ok {
		add(Signal{
			ID: SigHostingPlatform, Severity: SeverityMedium, Weight: h.Weights.Weight(SigHostingPlatform),
			Evidence:    map[string]any{"platform": platform},
			Explanation: fmt.Sprintf("The page is hosted on %q, where anyone can publish content.", platform),
		})
	}
	if trusted, ok := h.Catalog.Trusted(u.Host); ok {
		add(Signal{
			ID: SigTrustedDomain, Severity: SeverityLow, Weight: h.Weights.Weight(SigTrustedDomain),
			Evidence:    map[string]any{"domain": trusted},
			Explanation: "The domain is on the trusted allowlist.",
		})
	}

	// External rules, only when the corresponding source was consulted.
	if ext.TrancoConsulted {
		if ext.InTranco {
			if s, ok := TrancoSignal(u, h.Catalog, h.Weights, ext.TrancoRank); ok {
				add(s)
			}
		} else {
			add(NotInTrancoSignal(u, h.Weights))
		}
	}
	if ext.WhoisHasAge {
		if s, ok := WhoisSignal(u.Registrable, ext.WhoisAgeDays, h.Weights); ok {
			add(s)
		}
	}
	if ext.VT != nil {
		if s, ok := VTSignal(*ext.VT, h.Weights); ok {
			add(s)
		}
	}

	return Clamp(score), signals
}

// TrancoSignal builds the top-list bonification. Shortener, paste-service
// and hosting-platform hosts never receive it: their domain rank says
// nothing about the linked content.
func TrancoSignal(u *urlcheck.Context, cat *catalog.Catalog, t *Table, rank int) (Signal, bool) {
	if _, ok := cat.Shortener(u.Host); ok {
		return Signal{}, false
	}
	if _, ok := cat.PasteService(u.Host); ok {
		return Signal{}, false
	}
	if _, ok := cat.HostingPlatform(u.Host); ok {
		return Signal{}, false
	}
	return Signal{
		ID: SigDomainInTranco, Severity: SeverityLow, Weight: t.Weight(SigDomainInTranco),
		Evidence:    map[string]any{"rank": rank},
		Explanation: fmt.Sprintf("The domain is in the Tranco top list (rank %d).", rank),
	}, true
}

// NotInTrancoSignal marks a domain absent from the top list.
func NotInTrancoSignal(u *urlcheck.Context, t *Table) Signal {
	return Signal{
		ID: SigDomainNotInTranco, Severity: SeverityMedium, Weight: t.Weight(SigDomainNotInTranco),
		Evidence:    map[string]any{"domain": u.Registrable},
		Explanation: fmt.Sprintf("The domain %q is not on the list of widely known sites.", u.Registrable),
	}
}

// VTSignal maps a VirusTotal aggregate to its tiered signal, or the clean
// bonification when a large majority of engines vouch for the URL.
func VTSignal(vt VTStats, t *Table) (Signal, bool) {
	if vt.Malicious > 0 {
		var id string
		var sev Severity
		switch {
		case vt.Malicious >= 10:
			id, sev = SigVTMaliciousCritical, SeverityHigh
		case vt.Malicious >= 7:
			id, sev = SigVTMaliciousHigh, SeverityHigh
		case vt.Malicious >= 4:
			id, sev = SigVTMaliciousMed, SeverityMedium
		default:
			id, sev = SigVTMaliciousLow, SeverityLow
		}
		return Signal{
			ID: id, Severity: sev, Weight: t.Weight(id),
			Evidence: map[string]any{
				"malicious_count": vt.Malicious,
				"total_engines":   vt.TotalEngines,
				"threat_names":    vt.ThreatNames,
			},
			Explanation: fmt.Sprintf("%d antivirus engines flag this URL as malicious.", vt.Malicious),
		}, true
	}
	if vt.TotalEngines > 0 && float64(vt.Harmless) >= 0.8*float64(vt.TotalEngines) {
		return Signal{
			ID: SigVTClean, Severity: SeverityLow, Weight: t.Weight(SigVTClean),
			Evidence:    map[string]any{"harmless_count": vt.Harmless, "total_engines": vt.TotalEngines},
			Explanation: fmt.Sprintf("%d antivirus engines report this URL as harmless.", vt.Harmless),
		}, true
	}
	return Signal{}, false
}

// WhoisSignal converts a domain age into the too-new penalty or the
// established bonification.
func WhoisSignal(domain string, ageDays int, t *Table) (Signal, bool) {
	switch {
	case ageDays < 30:
		return Signal{
			ID: SigDomainTooNew, Severity: SeverityHigh, Weight: t.Weight(SigDomainTooNew),
			Evidence:    map[string]any{"domain": domain, "age_days": ageDays, "threshold_days": 30},
			Explanation: fmt.Sprintf("The domain %q was registered only %d days ago. Phishing sites favor freshly created domains.", domain, ageDays),
		}, true
	case ageDays > 365:
		return Signal{
			ID: SigDomainEstablished, Severity: SeverityLow, Weight: t.Weight(SigDomainEstablished),
			Evidence:    map[string]any{"domain": domain, "age_days": ageDays},
			Explanation: fmt.Sprintf("The domain has existed for %.1f years.", float64(ageDays)/365),
		}, true
	}
	return Signal{}, false
}

func cap3(words []string) []string {
	if len(words) > 3 {
		return words[:3]
	}
	return words
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

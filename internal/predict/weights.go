package predict

import (
	"encoding/json"
	"fmt"
	"os"
)

// Signal ids the predictors and the crawler may emit. Every id has a
// default weight below; a calibrated weights artifact overrides per id.
const (
	SigIPAsHost            = "IP_AS_HOST"
	SigNoHTTPS             = "NO_HTTPS"
	SigBrandImpersonation  = "BRAND_IMPERSONATION"
	SigSuspiciousWords     = "SUSPICIOUS_WORDS"
	SigPunycode            = "PUNYCODE_DETECTED"
	SigPasteService        = "PASTE_SERVICE"
	SigDomainNotInTranco   = "DOMAIN_NOT_IN_TRANCO"
	SigHighDigitRatio      = "HIGH_DIGIT_RATIO"
	SigHighEntropy         = "HIGH_ENTROPY"
	SigURLShortener        = "URL_SHORTENER"
	SigAtSymbol            = "AT_SYMBOL"
	SigRiskyTLD            = "RISKY_TLD"
	SigExcessiveSubdomains = "EXCESSIVE_SUBDOMAINS"
	SigLongURL             = "LONG_URL"
	SigHostingPlatform     = "HOSTING_PLATFORM"
	SigDomainInTranco      = "DOMAIN_IN_TRANCO"
	SigVTClean             = "VIRUSTOTAL_CLEAN"
	SigTrustedDomain       = "TRUSTED_DOMAIN"
	SigDomainTooNew        = "DOMAIN_TOO_NEW"
	SigDomainEstablished   = "DOMAIN_ESTABLISHED"
	SigVTMaliciousLow      = "VIRUSTOTAL_MALICIOUS_LOW"
	SigVTMaliciousMed      = "VIRUSTOTAL_MALICIOUS_MED"
	SigVTMaliciousHigh     = "VIRUSTOTAL_MALICIOUS_HIGH"
	SigVTMaliciousCritical = "VIRUSTOTAL_MALICIOUS_CRITICAL"

	SigFormSubmitsExternally     = "FORM_SUBMITS_EXTERNALLY"
	SigSSLCertificateError       = "SSL_CERTIFICATE_ERROR"
	SigBrandContentDetected      = "BRAND_CONTENT_DETECTED"
	SigPhishingTextDetected      = "PHISHING_TEXT_DETECTED"
	SigSuspiciousInputFields     = "SUSPICIOUS_INPUT_FIELDS"
	SigCreditCardForm            = "CREDIT_CARD_FORM"
	SigRedirectToDifferentDomain = "REDIRECT_TO_DIFFERENT_DOMAIN"
	SigParkingPage               = "PARKING_PAGE"
	SigLoginFormDetected         = "LOGIN_FORM_DETECTED"
	SigExcessiveRedirects        = "EXCESSIVE_REDIRECTS"
	SigExcessiveIframes          = "EXCESSIVE_IFRAMES"
	SigExcessiveHiddenInputs     = "EXCESSIVE_HIDDEN_INPUTS"
)

func defaultWeights() map[string]int {
	return map[string]int{
		SigIPAsHost:            39,
		SigNoHTTPS:             34,
		SigBrandImpersonation:  31,
		SigSuspiciousWords:     18,
		SigPunycode:            17,
		SigPasteService:        16,
		SigDomainNotInTranco:   12,
		SigHighDigitRatio:      8,
		SigHighEntropy:         8,
		SigURLShortener:        6,
		SigAtSymbol:            5,
		SigRiskyTLD:            15,
		SigExcessiveSubdomains: 10,
		SigLongURL:             1,
		SigHostingPlatform:     15,
		SigDomainInTranco:      -35,
		SigVTClean:             -25,
		SigTrustedDomain:       -15,
		SigDomainTooNew:        35,
		SigDomainEstablished:   -15,
		SigVTMaliciousLow:      25,
		SigVTMaliciousMed:      40,
		SigVTMaliciousHigh:     60,
		SigVTMaliciousCritical: 80,

		SigFormSubmitsExternally:     35,
		SigSSLCertificateError:       35,
		SigBrandContentDetected:      40,
		SigPhishingTextDetected:      30,
		SigSuspiciousInputFields:     30,
		SigCreditCardForm:            25,
		SigRedirectToDifferentDomain: 20,
		SigParkingPage:               20,
		SigLoginFormDetected:         15,
		SigExcessiveRedirects:        15,
		SigExcessiveIframes:          10,
		SigExcessiveHiddenInputs:     10,
	}
}

// Table is the versioned weights artifact. Every signal id a predictor may
// emit has an entry; ids missing from a loaded artifact keep their default.
type Table struct {
	Version         string             `json:"version"`
	CalibrationDate string             `json:"calibration_date"`
	DatasetSize     int                `json:"dataset_size"`
	Metrics         map[string]float64 `json:"metrics"`
	Weights         map[string]int     `json:"weights"`
}

// DefaultTable returns the built-in weights.
func DefaultTable() *Table {
	return &Table{Version: "builtin", Weights: defaultWeights()}
}

// LoadTable merges a calibrated weights file over the defaults. An empty
// path returns the defaults.
func LoadTable(path string) (*Table, error) {
	t := DefaultTable()
	if path == "" {
		return t, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read weights: %w", err)
	}
	var loaded Table
	if err := json.Unmarshal(b, &loaded); err != nil {
		return nil, fmt.Errorf("parse weights: %w", err)
	}
	if loaded.Version != "" {
		t.Version = loaded.Version
	}
	t.CalibrationDate = loaded.CalibrationDate
	t.DatasetSize = loaded.DatasetSize
	t.Metrics = loaded.Metrics
	for id, w := range loaded.Weights {
		t.Weights[id] = w
	}
	return t, nil
}

// Weight returns the calibrated weight for a signal id. Signals must take
// their weight from here, never from inline constants.
func (t *Table) Weight(id string) int {
	return t.Weights[id]
}

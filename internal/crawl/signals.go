package crawl

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/alerta-link/alertalink/internal/predict"
)

// Signals maps a crawl report to weighted signals. originalRegistrable is
// the registrable domain of the analyzed URL, used for the redirect check.
func Signals(rep Report, originalRegistrable string, t *predict.Table) []predict.Signal {
	var out []predict.Signal
	add := func(id string, sev predict.Severity, evidence map[string]any, explanation string) {
		out = append(out, predict.Signal{
			ID: id, Severity: sev, Weight: t.Weight(id),
			Evidence: evidence, Explanation: explanation,
		})
	}

	ev := rep.Evidence

	if ev.SSLError {
		add(predict.SigSSLCertificateError, predict.SeverityHigh,
			map[string]any{"url": rep.FinalURL},
			"The site presented an invalid TLS certificate.")
	}
	if ev.FormSubmitsExternally {
		add(predict.SigFormSubmitsExternally, predict.SeverityHigh,
			map[string]any{},
			"A form on the page submits data to a different domain.")
	}
	if finalReg := finalRegistrable(rep); finalReg != "" && originalRegistrable != "" && finalReg != originalRegistrable {
		add(predict.SigRedirectToDifferentDomain, predict.SeverityMedium,
			map[string]any{"from": originalRegistrable, "to": finalReg, "chain": rep.RedirectChain},
			fmt.Sprintf("The page redirects away from %s to %s.", originalRegistrable, finalReg))
	}
	if len(ev.BrandsDetected) > 0 {
		add(predict.SigBrandContentDetected, predict.SeverityHigh,
			map[string]any{"brands": ev.BrandsDetected},
			fmt.Sprintf("The page content imitates %s without being its official site.", strings.Join(ev.BrandsDetected, ", ")))
	}
	if ev.PhishingPhrasesCount > 0 {
		add(predict.SigPhishingTextDetected, predict.SeverityHigh,
			map[string]any{"count": ev.PhishingPhrasesCount},
			"The page text uses wording typical of phishing pages.")
	}
	if ev.HasSuspiciousInputs {
		add(predict.SigSuspiciousInputFields, predict.SeverityHigh,
			map[string]any{},
			"The page asks for sensitive identifiers such as SSN or PIN.")
	}
	if ev.HasCreditCardField {
		add(predict.SigCreditCardForm, predict.SeverityMedium,
			map[string]any{},
			"The page contains a credit card input form.")
	}
	if ev.IsParkingPage {
		add(predict.SigParkingPage, predict.SeverityMedium,
			map[string]any{"title": ev.PageTitle},
			"The page is a parked or for-sale domain placeholder.")
	}
	if len(rep.RedirectChain) > 3 {
		add(predict.SigExcessiveRedirects, predict.SeverityMedium,
			map[string]any{"hops": len(rep.RedirectChain) - 1, "chain": rep.RedirectChain},
			"The URL goes through an unusual number of redirects.")
	}
	if ev.HasLoginForm {
		add(predict.SigLoginFormDetected, predict.SeverityMedium,
			map[string]any{},
			"The page presents a login form.")
	}
	if ev.IframeCount > 3 {
		add(predict.SigExcessiveIframes, predict.SeverityLow,
			map[string]any{"count": ev.IframeCount},
			"The page embeds an unusual number of iframes.")
	}
	if ev.HiddenInputCount > 5 {
		add(predict.SigExcessiveHiddenInputs, predict.SeverityLow,
			map[string]any{"count": ev.HiddenInputCount},
			"The page contains an unusual number of hidden inputs.")
	}
	return out
}

// criticalSignals survive the top-list filter: for hosts in the Tranco
// top-k, only these are admitted and the rest are suppressed as probable
// false positives.
var criticalSignals = map[string]struct{}{
	predict.SigSSLCertificateError:       {},
	predict.SigFormSubmitsExternally:     {},
	predict.SigRedirectToDifferentDomain: {},
}

// FilterTopList suppresses non-critical crawler signals.
func FilterTopList(signals []predict.Signal) []predict.Signal {
	var out []predict.Signal
	for _, s := range signals {
		if _, ok := criticalSignals[s.ID]; ok {
			out = append(out, s)
		}
	}
	return out
}

func finalRegistrable(rep Report) string {
	if rep.FinalURL == "" {
		return ""
	}
	u, err := url.Parse(rep.FinalURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return registrableOf(u.Hostname())
}

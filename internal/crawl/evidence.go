package crawl

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"

	"github.com/alerta-link/alertalink/internal/catalog"
)

var phishingPhrases = []string{
	"verify your account",
	"confirm your identity",
	"account has been suspended",
	"unusual activity",
	"update your payment",
	"your account will be",
	"security alert",
	"re-enter your password",
	"session has expired",
	"confirm your information",
}

var parkingPhrases = []string{
	"domain is for sale",
	"buy this domain",
	"this domain has been registered",
	"domain parking",
	"parked free",
	"related searches",
}

var creditCardMarkers = []string{"card", "cvv", "cvc", "ccnum", "cardnumber", "card_number", "expiry"}

var suspiciousInputMarkers = []string{"ssn", "social", "pin", "dob", "mmn", "taxid"}

// extractEvidence runs the single DOM query pass over the final document.
func extractEvidence(doc *goquery.Document, pageURL *url.URL, cat *catalog.Catalog) Evidence {
	var ev Evidence

	ev.PageTitle = strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("input").Each(func(_ int, s *goquery.Selection) {
		typ, _ := s.Attr("type")
		typ = strings.ToLower(typ)
		switch typ {
		case "password":
			ev.HasPasswordField = true
		case "hidden":
			ev.HiddenInputCount++
		}
		ident := strings.ToLower(attrJoin(s, "name", "id", "placeholder", "autocomplete"))
		if containsAny(ident, creditCardMarkers) {
			ev.HasCreditCardField = true
		}
		if containsAny(ident, suspiciousInputMarkers) {
			ev.HasSuspiciousInputs = true
		}
	})

	pageReg := registrableOf(pageURL.Hostname())
	doc.Find("form").Each(func(_ int, s *goquery.Selection) {
		if s.Find("input[type='password']").Length() > 0 {
			ev.HasLoginForm = true
		}
		action, _ := s.Attr("action")
		action = strings.TrimSpace(action)
		if action == "" {
			return
		}
		target, err := pageURL.Parse(action)
		if err != nil || target.Hostname() == "" {
			return
		}
		if registrableOf(target.Hostname()) != pageReg {
			ev.FormSubmitsExternally = true
		}
	})

	ev.IframeCount = doc.Find("iframe").Length()

	text := strings.ToLower(strings.Join(strings.Fields(doc.Find("body").Text()), " "))
	title := strings.ToLower(ev.PageTitle)
	for _, p := range phishingPhrases {
		ev.PhishingPhrasesCount += strings.Count(text, p)
	}
	for _, p := range parkingPhrases {
		if strings.Contains(text, p) || strings.Contains(title, p) {
			ev.IsParkingPage = true
			break
		}
	}

	if cat != nil {
		host := strings.ToLower(pageURL.Hostname())
		for _, brand := range cat.BrandNames() {
			official, _ := cat.OfficialDomain(brand)
			if host == official || strings.HasSuffix(host, "."+official) {
				continue
			}
			if strings.Contains(text, brand) || strings.Contains(title, brand) {
				ev.BrandsDetected = append(ev.BrandsDetected, brand)
			}
		}
	}

	return ev
}

func registrableOf(host string) string {
	host = strings.ToLower(host)
	if etld1, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return etld1
	}
	return host
}

func attrJoin(s *goquery.Selection, attrs ...string) string {
	var parts []string
	for _, a := range attrs {
		if v, ok := s.Attr(a); ok {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

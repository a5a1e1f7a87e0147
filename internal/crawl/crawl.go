package crawl

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/alerta-link/alertalink/internal/catalog"
	"github.com/alerta-link/alertalink/internal/urlcheck"
)

const (
	// DefaultTimeout bounds one crawl end to end.
	DefaultTimeout = 20 * time.Second
	// DefaultMaxRedirects caps redirect following.
	DefaultMaxRedirects = 5

	maxBodyBytes = 2 << 20
)

var (
	errTooManyRedirects = errors.New("too many redirects")
	errBlockedHop       = errors.New("redirect to blocked target")
)

// Report is the page-inspection result fed into signal synthesis.
type Report struct {
	Status          int      `json:"status"`
	FinalURL        string   `json:"final_url"`
	RedirectChain   []string `json:"redirect_chain"`
	HTMLFingerprint string   `json:"html_fingerprint"`
	Evidence        Evidence `json:"evidence"`
}

// Evidence is what one DOM pass over the rendered page collected.
type Evidence struct {
	HasLoginForm          bool     `json:"has_login_form"`
	HasPasswordField      bool     `json:"has_password_field"`
	HasCreditCardField    bool     `json:"has_credit_card_field"`
	HasSuspiciousInputs   bool     `json:"has_suspicious_inputs"`
	PageTitle             string   `json:"page_title"`
	BrandsDetected        []string `json:"brands_detected"`
	PhishingPhrasesCount  int      `json:"phishing_phrases_count"`
	FormSubmitsExternally bool     `json:"form_submits_externally"`
	IframeCount           int      `json:"iframe_count"`
	HiddenInputCount      int      `json:"hidden_input_count"`
	SSLError              bool     `json:"ssl_error"`
	IsParkingPage         bool     `json:"is_parking_page"`
}

// Crawler fetches a page over an instrumented HTTP client: the redirect
// chain is recorded, TLS failures become first-class evidence instead of
// errors, and the final document goes through one evidence pass. Instances
// are resource-heavy, so in-flight crawls are capped per crawler.
type Crawler struct {
	UserAgent     string
	MaxConcurrent int
	Catalog       *catalog.Catalog
	Log           zerolog.Logger
	// Lookup resolves redirect-hop hostnames for the address check.
	// Nil means the process resolver.
	Lookup urlcheck.LookupFunc
	// Transport overrides the pinned transport; tests point it at stubs.
	Transport http.RoundTripper

	limiter     chan struct{}
	limiterOnce sync.Once
}

// Crawl navigates to the gated URL under a hard deadline and returns the
// report. The first hop is dialed against the addresses the gate resolved,
// never a fresh resolution, and every later hop is re-checked against the
// blocked-hostname list and the reserved address ranges before connecting.
// ok=false means nothing usable was captured; a TLS failure still yields
// ok=true with Evidence.SSLError set, and a refused or over-budget redirect
// yields ok=true with the chain walked so far.
func (c *Crawler) Crawl(ctx context.Context, target *urlcheck.Context, timeout time.Duration, maxRedirects int) (Report, bool) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}
	if err := c.acquire(ctx); err != nil {
		return Report{}, false
	}
	defer c.release()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	transport := c.Transport
	if transport == nil {
		t := &http.Transport{
			DialContext:         c.dialFunc(target),
			TLSHandshakeTimeout: 10 * time.Second,
			DisableKeepAlives:   true,
		}
		defer t.CloseIdleConnections()
		transport = t
	}

	chain := []string{target.Normalized}
	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errTooManyRedirects
			}
			if req.URL == nil || (req.URL.Scheme != "http" && req.URL.Scheme != "https") {
				return errors.New("redirect to unsupported scheme")
			}
			if urlcheck.BlockedHostname(req.URL.Hostname()) {
				return errBlockedHop
			}
			chain = append(chain, req.URL.String())
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.Normalized, nil)
	if err != nil {
		return Report{}, false
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		if isTLSError(err) {
			rep := Report{FinalURL: chain[len(chain)-1], RedirectChain: chain}
			rep.Evidence.SSLError = true
			return rep, true
		}
		if errors.Is(err, errTooManyRedirects) || errors.Is(err, errBlockedHop) {
			return Report{FinalURL: chain[len(chain)-1], RedirectChain: chain}, true
		}
		c.Log.Debug().Err(err).Str("url", target.Normalized).Msg("crawl failed")
		return Report{}, false
	}
	defer resp.Body.Close()

	rep := Report{
		Status:        resp.StatusCode,
		FinalURL:      resp.Request.URL.String(),
		RedirectChain: chain,
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return rep, true
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return rep, true
	}
	rep.Evidence = extractEvidence(doc, resp.Request.URL, c.Catalog)
	rep.HTMLFingerprint = fingerprint(rep.Evidence.PageTitle, doc)
	return rep, true
}

func (c *Crawler) acquire(ctx context.Context) error {
	if c.MaxConcurrent <= 0 {
		return nil
	}
	c.limiterOnce.Do(func() {
		c.limiter = make(chan struct{}, c.MaxConcurrent)
	})
	select {
	case c.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dialFunc returns the transport dialer for one crawl. Connections to the
// gated host use the address set the gate stored on the context, so a DNS
// answer that changes between the gate and the fetch cannot steer the crawl.
// Any other host, which can only be reached via a redirect, is resolved here
// and refused when any address lands in a reserved range.
func (c *Crawler) dialFunc(target *urlcheck.Context) func(ctx context.Context, network, addr string) (net.Conn, error) {
	lookup := c.Lookup
	if lookup == nil {
		lookup = urlcheck.DefaultLookup
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		host = strings.ToLower(host)

		var d net.Dialer
		if host == target.Host && len(target.ResolvedIPs) > 0 {
			var lastErr error
			for _, ip := range target.ResolvedIPs {
				conn, err := d.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
				if err == nil {
					return conn, nil
				}
				lastErr = err
			}
			return nil, lastErr
		}

		var ips []netip.Addr
		if ip, parseErr := netip.ParseAddr(host); parseErr == nil {
			ips = []netip.Addr{ip}
		} else if ips, err = lookup(ctx, host); err != nil {
			return nil, err
		}
		var lastErr error
		for _, ip := range ips {
			if urlcheck.DisallowedIP(ip) {
				return nil, fmt.Errorf("%w: %s is %s", errBlockedHop, host, ip)
			}
			conn, err := d.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("no addresses for %s", host)
		}
		return nil, lastErr
	}
}

func (c *Crawler) release() {
	if c.MaxConcurrent <= 0 || c.limiter == nil {
		return
	}
	select {
	case <-c.limiter:
	default:
	}
}

func isTLSError(err error) bool {
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	var unknownAuth x509.UnknownAuthorityError
	var hostname x509.HostnameError
	var invalid x509.CertificateInvalidError
	if errors.As(err, &unknownAuth) || errors.As(err, &hostname) || errors.As(err, &invalid) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "certificate") || strings.Contains(msg, "tls:")
}

// fingerprint hashes a normalized slice of the document: the title plus the
// whitespace-collapsed body text, truncated. Stable across reloads of the
// same page content.
func fingerprint(title string, doc *goquery.Document) string {
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	if len(text) > 4096 {
		text = text[:4096]
	}
	sum := sha256.Sum256([]byte(title + "\n" + text))
	return hex.EncodeToString(sum[:])[:16]
}

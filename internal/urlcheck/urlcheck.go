package urlcheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

var (
	// ErrInvalidURL marks inputs that fail length, scheme or parse checks.
	ErrInvalidURL = errors.New("invalid url")
	// ErrBlockedTarget marks SSRF-hazardous targets.
	ErrBlockedTarget = errors.New("blocked target")
)

const (
	// MinLength and MaxLength bound the accepted raw input, inclusive.
	MinLength = 10
	MaxLength = 2048
)

// Context is the request-scoped, normalized view of a URL. Immutable after
// Normalize except for ResolvedIPs, which Gate fills so the crawler can reuse
// the same address set instead of re-resolving.
type Context struct {
	Original    string
	Normalized  string
	Scheme      string
	Host        string // lowercase ASCII, no port, no trailing dot
	Registrable string // eTLD+1; the host itself for IP literals
	TLD         string // final label of the host, "" for IP literals
	Port        string // explicit non-default port, "" otherwise
	Path        string
	Query       string
	IsIP        bool
	Punycode    bool

	ResolvedIPs []netip.Addr
}

// Normalize canonicalizes a raw URL string: lowercase scheme and host,
// default ports stripped, trailing host dot removed, IDNA applied to
// non-ASCII hosts, fragment dropped, path percent-encoded. The result is a
// fixed point: Normalize(ctx.Normalized) yields an identical context.
func Normalize(raw string) (*Context, error) {
	if n := len(raw); n < MinLength || n > MaxLength {
		return nil, fmt.Errorf("%w: length %d outside [%d,%d]", ErrInvalidURL, n, MinLength, MaxLength)
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	ip, ipErr := netip.ParseAddr(host)
	isIP := ipErr == nil

	if !isIP {
		ascii, err := idna.ToASCII(host)
		if err != nil {
			return nil, fmt.Errorf("%w: idna: %v", ErrInvalidURL, err)
		}
		host = strings.ToLower(ascii)
	}

	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}

	c := &Context{
		Original: raw,
		Scheme:   scheme,
		Host:     host,
		Port:     port,
		Path:     u.EscapedPath(),
		Query:    u.RawQuery,
		IsIP:     isIP,
	}
	if isIP {
		c.Registrable = ip.String()
	} else {
		c.Punycode = hasPunycodeLabel(host)
		if etld1, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
			c.Registrable = etld1
		} else {
			c.Registrable = host
		}
		if i := strings.LastIndexByte(host, '.'); i >= 0 {
			c.TLD = host[i+1:]
		}
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	if isIP && strings.Contains(host, ":") {
		b.WriteString("[" + host + "]")
	} else {
		b.WriteString(host)
	}
	if port != "" {
		b.WriteString(":" + port)
	}
	b.WriteString(c.Path)
	if c.Query != "" {
		b.WriteString("?" + c.Query)
	}
	c.Normalized = b.String()
	return c, nil
}

func hasPunycodeLabel(host string) bool {
	for _, label := range strings.Split(host, ".") {
		if strings.HasPrefix(label, "xn--") {
			return true
		}
	}
	return false
}

// SecondLevelLabel returns the label left of the public suffix, the piece a
// typosquatter varies ("paypa1" in paypa1-secure.xyz is not it; "paypa1-secure" is).
func (c *Context) SecondLevelLabel() string {
	if c.IsIP {
		return ""
	}
	reg := c.Registrable
	if i := strings.IndexByte(reg, '.'); i > 0 {
		return reg[:i]
	}
	return reg
}

// SubdomainLabels returns the labels left of the registrable domain.
func (c *Context) SubdomainLabels() []string {
	if c.IsIP || c.Host == c.Registrable {
		return nil
	}
	prefix := strings.TrimSuffix(c.Host, "."+c.Registrable)
	if prefix == c.Host {
		return nil
	}
	return strings.Split(prefix, ".")
}

// LookupFunc resolves a hostname to its address set. The gate and the
// crawler share one resolver so the checked addresses are the fetched ones.
type LookupFunc func(ctx context.Context, host string) ([]netip.Addr, error)

// DefaultLookup resolves with the process resolver.
func DefaultLookup(ctx context.Context, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}

var blockedHostnames = map[string]struct{}{
	"localhost":                {},
	"localhost.localdomain":    {},
	"0.0.0.0":                  {},
	"metadata.google.internal": {},
	"metadata.internal":        {},
	"169.254.169.254":          {},
}

var disallowedRanges = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("224.0.0.0/4"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("::/128"),
}

// BlockedHostname reports whether host is on the always-rejected name list,
// regardless of what it resolves to.
func BlockedHostname(host string) bool {
	_, ok := blockedHostnames[strings.ToLower(host)]
	return ok
}

// DisallowedIP reports whether ip falls in a loopback, link-local, private,
// multicast, broadcast, CGNAT, benchmark or otherwise reserved range.
func DisallowedIP(ip netip.Addr) bool {
	ip = ip.Unmap()
	for _, p := range disallowedRanges {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// Gate enforces the SSRF policy on a normalized context. IP-literal hosts
// are checked directly; named hosts are resolved via lookup and every
// returned address is checked. Resolution failure is not a rejection, a
// freshly registered domain may not resolve yet. The resolved set is stored
// on the context for downstream reuse.
func Gate(ctx context.Context, c *Context, lookup LookupFunc) error {
	if BlockedHostname(c.Host) {
		return fmt.Errorf("%w: hostname %s", ErrBlockedTarget, c.Host)
	}
	if c.IsIP {
		ip, err := netip.ParseAddr(c.Host)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidURL, err)
		}
		if DisallowedIP(ip) {
			return fmt.Errorf("%w: reserved address %s", ErrBlockedTarget, ip)
		}
		c.ResolvedIPs = []netip.Addr{ip}
		return nil
	}
	if lookup == nil {
		lookup = DefaultLookup
	}
	ips, err := lookup(ctx, c.Host)
	if err != nil {
		return nil
	}
	for _, ip := range ips {
		if DisallowedIP(ip) {
			return fmt.Errorf("%w: %s resolves to reserved address %s", ErrBlockedTarget, c.Host, ip)
		}
	}
	c.ResolvedIPs = ips
	return nil
}

package guard

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"strings"

	"sumi/internal/apperr"
)

// Guard rejects URLs that would let the gateway reach private,
// link-local, or cloud-metadata addresses. Every URL the service
// dereferences, including redirect hops, sub-requests issued by the
// headless browser, and webhook callback targets, goes through here.
type Guard struct {
	resolver Resolver
	dns      *dnsCache
}

// Resolver is the DNS lookup dependency, satisfied by *net.Resolver.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

func New() *Guard {
	return NewWithResolver(net.DefaultResolver)
}

func NewWithResolver(r Resolver) *Guard {
	return &Guard{resolver: r, dns: newDNSCache()}
}

var privateNets []*net.IPNet

func init() {
	cidrs := []string{
		"0.0.0.0/8",
		"10.0.0.0/8",
		"127.0.0.0/8",
		"100.64.0.0/10",
		"169.254.0.0/16",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"198.18.0.0/15",
		"192.0.0.0/24",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic("invalid CIDR in private ranges: " + c)
		}
		privateNets = append(privateNets, n)
	}
}

var metadataHosts = map[string]struct{}{
	"metadata.google.internal":   {},
	"metadata.goog":              {},
	"instance-data.ec2.internal": {},
}

// IsPrivateIP reports whether ip falls in a private or reserved range.
// IPv4-mapped IPv6 addresses are checked against the IPv4 rules.
func IsPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, n := range privateNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Check validates a full URL: scheme, host shape, metadata hostnames,
// IP literals (including obfuscated forms), and for hostnames a DNS
// resolution with every returned address validated.
func (g *Guard) Check(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return apperr.New(apperr.KindBlockedURL, "invalid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return apperr.New(apperr.KindBlockedURL, "unsupported protocol %q", u.Scheme)
	}
	return g.CheckHost(ctx, u.Hostname())
}

// CheckHost applies the host rules of Check to a bare hostname or IP.
func (g *Guard) CheckHost(ctx context.Context, host string) error {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" {
		return apperr.New(apperr.KindBlockedURL, "empty host")
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return apperr.New(apperr.KindBlockedURL, "localhost is not allowed")
	}
	if strings.Contains(host, "[") || strings.Contains(host, "]") {
		return apperr.New(apperr.KindBlockedURL, "bracketed host is not allowed")
	}
	if _, ok := metadataHosts[host]; ok {
		return apperr.New(apperr.KindBlockedURL, "metadata host is not allowed")
	}

	if ip := parseIPLiteral(host); ip != nil {
		if IsPrivateIP(ip) {
			return apperr.New(apperr.KindBlockedURL, "private address is not allowed")
		}
		return nil
	}
	if isObfuscatedIPv4(host) {
		return apperr.New(apperr.KindBlockedURL, "obfuscated IP address is not allowed")
	}

	return g.checkResolved(ctx, host)
}

// checkResolved resolves host and blocks when any returned address is
// private. Lookup failures are not blocking: an unresolvable host is
// handed to the fetcher, which fails on its own terms.
func (g *Guard) checkResolved(ctx context.Context, host string) error {
	if private, ok := g.dns.get(host); ok {
		if private {
			return apperr.New(apperr.KindBlockedURL, "host resolves to a private address")
		}
		return nil
	}

	addrs, err := g.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil
	}

	private := false
	for _, a := range addrs {
		if IsPrivateIP(a.IP) {
			private = true
			break
		}
	}
	g.dns.put(host, private)

	if private {
		return apperr.New(apperr.KindBlockedURL, "host resolves to a private address")
	}
	return nil
}

// parseIPLiteral handles plain dotted/colon literals plus bare decimal
// and hex encodings of an IPv4 address.
func parseIPLiteral(host string) net.IP {
	if ip := net.ParseIP(host); ip != nil {
		return ip
	}
	if strings.HasPrefix(host, "0x") || strings.HasPrefix(host, "0X") {
		if v, err := strconv.ParseUint(host[2:], 16, 32); err == nil {
			return ipv4FromUint(uint32(v))
		}
		return nil
	}
	if v, err := strconv.ParseUint(host, 10, 64); err == nil && v <= 0xFFFFFFFF {
		return ipv4FromUint(uint32(v))
	}
	return nil
}

func ipv4FromUint(v uint32) net.IP {
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// isObfuscatedIPv4 catches dotted quads that net.ParseIP rejects or
// that use leading-zero padding (which some stacks parse as octal).
func isObfuscatedIPv4(host string) bool {
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 {
			return false
		}
		for _, r := range p {
			if r < '0' || r > '9' {
				return false
			}
		}
		if len(p) > 1 && p[0] == '0' {
			return true
		}
	}
	return false
}

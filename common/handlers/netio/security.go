// Package netio implements the outbound-network node handlers and the URL
// policy guarding them against server-side request forgery.
package netio

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// blockedHostnames are literal host spellings rejected before DNS resolution.
var blockedHostnames = []string{
	"localhost",
	"127.0.0.1",
	"::1",
	"0.0.0.0",
	"::",
	"::ffff:127.0.0.1",
	"[::1]",
	"[::ffff:127.0.0.1]",
}

// URLPolicy validates request targets. Only http and https schemes pass;
// hosts resolving to loopback, private, link-local, multicast or unspecified
// addresses are rejected unless explicitly allow-listed or the policy as a
// whole permits private networks (local development).
type URLPolicy struct {
	AllowPrivate bool
	AllowedHosts map[string]bool

	// lookupIP is swappable for tests.
	lookupIP func(host string) ([]net.IP, error)
}

// NewURLPolicy builds a policy with the given host allow-list.
func NewURLPolicy(allowPrivate bool, allowedHosts []string) *URLPolicy {
	allowed := make(map[string]bool, len(allowedHosts))
	for _, h := range allowedHosts {
		allowed[strings.ToLower(strings.TrimSpace(h))] = true
	}
	return &URLPolicy{
		AllowPrivate: allowPrivate,
		AllowedHosts: allowed,
		lookupIP:     net.LookupIP,
	}
}

// Validate checks scheme and host of a raw URL.
func (p *URLPolicy) Validate(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("scheme %q is not allowed, only http and https", parsed.Scheme)
	}
	return p.validateHost(parsed.Hostname())
}

func (p *URLPolicy) validateHost(hostname string) error {
	if hostname == "" {
		return fmt.Errorf("URL has no host")
	}
	host := strings.ToLower(strings.TrimSpace(hostname))
	if p.AllowedHosts[host] {
		return nil
	}
	if p.AllowPrivate {
		return nil
	}

	for _, blocked := range blockedHostnames {
		if host == blocked {
			return fmt.Errorf("host %q is blocked: loopback access", hostname)
		}
	}

	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		return p.validateIP(ip)
	}

	ips, err := p.lookupIP(host)
	if err != nil {
		// Resolution failures surface on the request itself.
		return nil
	}
	for _, ip := range ips {
		if err := p.validateIP(ip); err != nil {
			return err
		}
	}
	return nil
}

// validateIP rejects address classes reachable only from inside the
// deployment: loopback, RFC 1918 / ULA, link-local (cloud metadata),
// multicast and unspecified.
func (p *URLPolicy) validateIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("address %s is blocked: loopback", ip)
	case ip.IsPrivate():
		return fmt.Errorf("address %s is blocked: private network", ip)
	case ip.IsLinkLocalUnicast():
		return fmt.Errorf("address %s is blocked: link-local", ip)
	case ip.IsMulticast():
		return fmt.Errorf("address %s is blocked: multicast", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("address %s is blocked: unspecified", ip)
	default:
		return nil
	}
}

// Package netsec implements the downstream-WS IP allow-list check and the
// consumer webhook-target SSRF guard named in §6's configuration
// (app_allowed_ips, app_webhook_target_allowlist,
// app_block_private_webhook_targets). Grounded on the original's
// app/core/network_security.py, ported to net/netip instead of Python's
// ipaddress module.
package netsec

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// ParseAllowedIPNetworks parses a CSV of bare IPs and/or CIDRs
// (app_allowed_ips). A bare IP becomes a /32 (or /128) network.
func ParseAllowedIPNetworks(raw string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, v := range splitCSV(raw) {
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("invalid app_allowed_ips entry %q: %w", v, err)
			}
			out = append(out, p)
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("invalid app_allowed_ips entry %q: %w", v, err)
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// ResolveClientIP picks the client address to allow-list-check: the
// X-Forwarded-For header's first hop when trustXFF is set and non-empty,
// else the direct connection address.
func ResolveClientIP(directHost, xForwardedFor string, trustXFF bool) string {
	if trustXFF && xForwardedFor != "" {
		if forwarded := strings.TrimSpace(strings.SplitN(xForwardedFor, ",", 2)[0]); forwarded != "" {
			return forwarded
		}
	}
	return directHost
}

// IsIPAllowed reports whether clientIP falls in one of networks. An empty
// networks list means "allow all" (the default, unconfigured behavior).
func IsIPAllowed(clientIP string, networks []netip.Prefix) bool {
	if len(networks) == 0 {
		return true
	}
	if clientIP == "" {
		return false
	}
	addr, err := netip.ParseAddr(clientIP)
	if err != nil {
		return false
	}
	for _, n := range networks {
		if n.Contains(addr) {
			return true
		}
	}
	return false
}

// ParseWebhookTargetAllowlist parses a CSV of bare hostname suffixes
// (app_webhook_target_allowlist).
func ParseWebhookTargetAllowlist(raw string) ([]string, error) {
	var out []string
	for _, v := range splitCSV(raw) {
		host := strings.ToLower(strings.TrimPrefix(v, "."))
		if strings.Contains(host, "://") || strings.Contains(host, "/") {
			return nil, fmt.Errorf("invalid app_webhook_target_allowlist entry %q: use hostnames only", v)
		}
		out = append(out, host)
	}
	return out, nil
}

// HostMatchesAllowlist reports whether host equals one of allowlist's
// entries or is a subdomain of one. An empty allowlist allows everything.
func HostMatchesAllowlist(host string, allowlist []string) bool {
	normalized := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
	if len(allowlist) == 0 {
		return true
	}
	for _, allowed := range allowlist {
		if normalized == allowed || strings.HasSuffix(normalized, "."+allowed) {
			return true
		}
	}
	return false
}

// IsPublicIP reports whether addr is routable on the public internet — not
// private/loopback/link-local/multicast/unspecified.
func IsPublicIP(addr netip.Addr) bool {
	return !(addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsMulticast() || addr.IsUnspecified())
}

var suspectHostSuffixes = []string{".localhost", ".local", ".internal"}

// WebhookTargetValidator validates a consumer-supplied webhook URL against
// the configured allowlist and, optionally, a private-address block —
// resolving DNS itself to guard against SSRF via a public hostname that
// points at an internal address.
type WebhookTargetValidator struct {
	Allowlist           []string
	BlockPrivateTargets bool
	Resolver            func(ctx context.Context, host string) ([]netip.Addr, error)
}

// NewWebhookTargetValidator builds a validator using net.DefaultResolver.
func NewWebhookTargetValidator(allowlist []string, blockPrivateTargets bool) *WebhookTargetValidator {
	return &WebhookTargetValidator{
		Allowlist:           allowlist,
		BlockPrivateTargets: blockPrivateTargets,
		Resolver:            defaultResolve,
	}
}

func defaultResolve(ctx context.Context, host string) ([]netip.Addr, error) {
	ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	return ips, nil
}

// Validate rejects rawURL with a descriptive error if it fails any check;
// nil means the URL is safe to store and later POST to.
func (v *WebhookTargetValidator) Validate(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("webhook_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook_url must use http or https")
	}
	if u.User != nil {
		return fmt.Errorf("webhook_url must not contain userinfo credentials")
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return fmt.Errorf("webhook_url host is required")
	}
	if !HostMatchesAllowlist(host, v.Allowlist) {
		return fmt.Errorf("webhook_url host is not allowed by the webhook target allowlist")
	}
	if !v.BlockPrivateTargets {
		return nil
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if !IsPublicIP(addr) {
			return fmt.Errorf("webhook_url target IP must be public")
		}
		return nil
	}
	for _, suffix := range suspectHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return fmt.Errorf("webhook_url target host is not public")
		}
	}

	resolver := v.Resolver
	if resolver == nil {
		resolver = defaultResolve
	}
	addrs, err := resolver(ctx, host)
	if err != nil {
		return fmt.Errorf("webhook_url host resolution failed: %w", err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("webhook_url host resolution returned no addresses")
	}
	for _, addr := range addrs {
		if !IsPublicIP(addr) {
			return fmt.Errorf("webhook_url target host resolves to non-public IP address")
		}
	}
	return nil
}

func splitCSV(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

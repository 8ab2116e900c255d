package server

import (
	"net"
	"net/http"
	"strings"

	"mercator-hq/turnstile/pkg/limits"
	"mercator-hq/turnstile/pkg/limits/tiers"
)

// Caller headers read by the Admission middleware.
const (
	HeaderUserID   = "X-User-ID"
	HeaderTier     = "X-Subscription-Tier"
	HeaderTenantID = "X-Tenant-ID"
)

// addressHeaders are consulted in order when proxy headers are trusted.
var addressHeaders = []string{
	"CF-Connecting-IP",
	"X-Forwarded-For",
	"X-Real-IP",
	"True-Client-IP",
	"X-Client-IP",
	"X-Cluster-Client-IP",
	"Forwarded-For",
	"Forwarded",
}

// ClientAddress returns the caller's address. With trustProxy set the
// proxy headers are consulted first; the first entry of a comma-separated
// list wins and the value "unknown" is skipped. Otherwise, or when no
// header is usable, the host part of RemoteAddr is returned.
func ClientAddress(r *http.Request, trustProxy bool) string {
	if trustProxy {
		for _, name := range addressHeaders {
			v := r.Header.Get(name)
			if name == "Forwarded" {
				v = forwardedFor(v)
			}
			if addr := firstAddress(v); addr != "" {
				return addr
			}
		}
	}
	return remoteHost(r.RemoteAddr)
}

func firstAddress(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, "unknown") {
		return ""
	}
	return v
}

// forwardedFor extracts the for= token of the first RFC 7239 element.
func forwardedFor(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	for _, pair := range strings.Split(v, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || !strings.EqualFold(key, "for") {
			continue
		}
		value = strings.Trim(value, `"`)
		if strings.HasPrefix(value, "[") {
			if end := strings.IndexByte(value, ']'); end > 0 {
				return value[1:end]
			}
		}
		if host, _, err := net.SplitHostPort(value); err == nil {
			return host
		}
		return value
	}
	return ""
}

func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// TenantID returns the X-Tenant-ID header or, failing that, the first
// label of a dotted host name such as acme.api.example.com. IP literals
// carry no tenant. Returns "" when neither applies.
func TenantID(r *http.Request) string {
	if t := strings.TrimSpace(r.Header.Get(HeaderTenantID)); t != "" {
		return t
	}
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return ""
	}
	return host[:strings.IndexByte(host, '.')]
}

// RequestIdentity builds the admission identity for r from the caller
// headers and the connection.
func RequestIdentity(r *http.Request, trustProxy bool) limits.Identity {
	return limits.Identity{
		UserID:  strings.TrimSpace(r.Header.Get(HeaderUserID)),
		Address: ClientAddress(r, trustProxy),
		Tenant:  TenantID(r),
	}
}

// RequestTier returns the tier named by the X-Subscription-Tier header.
// An absent header resolves to the basic tier in the engine. The header is
// not authenticated: a client that reaches the middleware directly can claim
// any tier, so it must be set or stripped by a trusted upstream.
func RequestTier(r *http.Request) tiers.Tier {
	return tiers.Tier(strings.TrimSpace(r.Header.Get(HeaderTier)))
}

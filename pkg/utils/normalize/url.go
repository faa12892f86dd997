// Package normalize canonicalizes relay URLs and composes the standard
// machine-readable reason prefixes used in OK and CLOSED messages.
package normalize

import (
	"net"
	"net/url"
	"strings"

	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/errorf"
)

// URL normalizes the url to a canonical relay websocket form:
//
//   - a missing scheme becomes wss://, or ws:// for localhost, plain IPs and
//     onion addresses
//   - http/https map to ws/wss
//   - scheme and host are lowercased
//   - a bare root path is dropped, other paths keep their form minus any
//     trailing slash
//
// The result of URL is a fixed point: applying it twice changes nothing.
// Unparseable input yields nil.
func URL(u string) []byte {
	u = strings.TrimSpace(u)
	u = strings.ToLower(u)
	if u == "" {
		return nil
	}
	if fragment := strings.Index(u, "#"); fragment != -1 {
		u = u[:fragment]
	}
	if !strings.Contains(u, "://") {
		host := u
		if slash := strings.Index(host, "/"); slash != -1 {
			host = host[:slash]
		}
		if IsLocal(host) || IsOnion(host) {
			u = "ws://" + u
		} else {
			u = "wss://" + u
		}
	}
	p, err := url.Parse(u)
	if chk.D(err) {
		return nil
	}
	switch p.Scheme {
	case "http":
		p.Scheme = "ws"
	case "https":
		p.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil
	}
	p.Host = strings.ToLower(p.Host)
	p.Path = strings.TrimRight(p.Path, "/")
	return []byte(strings.TrimRight(p.String(), "/"))
}

// Canonical is the strict form of URL: it fails instead of returning nil,
// and requires a host to be present.
func Canonical(u string) (n string, err error) {
	b := URL(u)
	if len(b) == 0 {
		err = errorf.D("cannot normalize relay url %q", u)
		return
	}
	var p *url.URL
	if p, err = url.Parse(string(b)); chk.D(err) {
		return
	}
	if p.Host == "" {
		err = errorf.D("relay url %q has no host", u)
		return
	}
	n = string(b)
	return
}

// IsOnion reports whether the host (with or without port) is a tor hidden
// service address.
func IsOnion(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.HasSuffix(strings.ToLower(host), ".onion")
}

// IsLocal reports whether the host (with or without port) is localhost or a
// loopback, private range or link-local IP.
func IsLocal(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(host)
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}

// Package netguard keeps server-side fetches of untrusted URLs away from
// loopback, private and link-local addresses.
package netguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// ErrBlocked is returned when a destination address is not allowed.
var ErrBlocked = errors.New("destination address not allowed")

// Guard dials only public addresses, except for explicitly trusted hosts.
type Guard struct {
	trusted map[string]bool
	open    *net.Dialer
	guarded *net.Dialer
}

// New creates a Guard. Connections to trustedHosts (host names or IP
// literals, without port) bypass the address check.
func New(trustedHosts ...string) *Guard {
	trusted := make(map[string]bool, len(trustedHosts))
	for _, h := range trustedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			trusted[h] = true
		}
	}
	return &Guard{
		trusted: trusted,
		open:    &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second},
		guarded: &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second, Control: control},
	}
}

// DialContext checks the resolved address of every connection, so redirects
// and DNS answers cannot reach an internal host.
func (g *Guard) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err == nil && g.trusted[strings.ToLower(host)] {
		return g.open.DialContext(ctx, network, addr)
	}
	return g.guarded.DialContext(ctx, network, addr)
}

// Client returns an HTTP client that dials through the guard. Environment
// proxies are ignored so the check applies to the real destination.
func (g *Guard) Client(timeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.Proxy = nil
	tr.DialContext = g.DialContext
	return &http.Client{Timeout: timeout, Transport: tr}
}

func control(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlocked, address)
	}
	ip := net.ParseIP(host)
	if ip == nil || Blocked(ip) {
		return fmt.Errorf("%w: %s", ErrBlocked, host)
	}
	return nil
}

// Blocked reports whether ip is loopback, private, link-local or unspecified.
func Blocked(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast() || ip.IsUnspecified()
}

// CheckURL rejects URLs that are not absolute http(s) URLs, and URLs whose
// host is an IP literal in a blocked range. Host names are checked at dial time.
func CheckURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("unsupported scheme: %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return errors.New("missing host")
	}
	if ip := net.ParseIP(host); ip != nil && Blocked(ip) {
		return fmt.Errorf("%w: %s", ErrBlocked, host)
	}
	return nil
}

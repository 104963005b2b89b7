// Package dns resolves hostnames with the system resolver and falls back to
// racing well-known public DNS servers when the system lookup fails.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// PublicServers are queried if a local lookup fails.
var PublicServers = []string{
	"1.0.0.1",                // Cloudflare
	"1.1.1.1",                // Cloudflare
	"[2606:4700:4700::1111]", // Cloudflare
	"8.8.4.4",                // Google
	"8.8.8.8",                // Google
	"[2001:4860:4860::8888]", // Google
	"9.9.9.9",                // Quad9
	"149.112.112.112",        // Quad9
	"208.67.220.220",         // Cisco OpenDNS
	"208.67.222.222",         // Cisco OpenDNS
}

var errNoAddresses = errors.New("no IP addresses found")

// Resolver looks hosts up locally first, then through Servers.
type Resolver struct {
	Servers       []string
	LocalTimeout  time.Duration
	RemoteTimeout time.Duration

	// lookup is replaced in tests.
	lookup func(ctx context.Context, server, host string) ([]string, error)
}

// Default is the resolver used by the client dialer.
var Default = NewResolver()

// NewResolver returns a Resolver using PublicServers.
func NewResolver() *Resolver {
	return &Resolver{
		Servers:       PublicServers,
		LocalTimeout:  time.Second,
		RemoteTimeout: 2 * time.Second,
	}
}

// Lookup resolves host to one IP address, preferring IPv4.
func (r *Resolver) Lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	localCtx, cancel := context.WithTimeout(ctx, r.LocalTimeout)
	ips, err := r.query(localCtx, "", host)
	cancel()
	if err == nil {
		return preferIPv4(ips), nil
	}
	if ctx.Err() != nil || len(r.Servers) == 0 {
		return "", fmt.Errorf("resolve %s: %w", host, err)
	}
	return r.race(ctx, host)
}

// race returns the first answer any public server gives.
func (r *Resolver) race(ctx context.Context, host string) (string, error) {
	type result struct {
		ips []string
		err error
	}

	ctx, cancel := context.WithTimeout(ctx, r.RemoteTimeout)
	defer cancel()

	results := make(chan result, len(r.Servers))
	for _, server := range r.Servers {
		go func(server string) {
			ips, err := r.query(ctx, server, host)
			results <- result{ips: ips, err: err}
		}(server)
	}

	failures := 0
	for range r.Servers {
		select {
		case res := <-results:
			if res.err == nil {
				return preferIPv4(res.ips), nil
			}
			failures++
		case <-ctx.Done():
			return "", fmt.Errorf("resolve %s: public DNS race timed out", host)
		}
	}
	return "", fmt.Errorf("resolve %s: all %d public DNS servers failed", host, failures)
}

// query resolves host through server, or the system resolver if server is empty.
func (r *Resolver) query(ctx context.Context, server, host string) ([]string, error) {
	lookup := r.lookup
	if lookup == nil {
		lookup = netLookup
	}
	ips, err := lookup(ctx, server, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, errNoAddresses
	}
	return ips, nil
}

func netLookup(ctx context.Context, server, host string) ([]string, error) {
	res := &net.Resolver{}
	if server != "" {
		res = &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, net.JoinHostPort(trimBrackets(server), "53"))
			},
		}
	}
	return res.LookupHost(ctx, host)
}

func preferIPv4(ips []string) string {
	for _, ip := range ips {
		if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() != nil {
			return ip
		}
	}
	return ips[0]
}

func trimBrackets(s string) string {
	if len(s) > 1 && s[0] == '[' && s[len(s)-1] == ']' {
		return s[1 : len(s)-1]
	}
	return s
}

// DialContext resolves the host of addr with r and dials the result.
func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ip, err := r.Lookup(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dns lookup failed: %w", err)
	}
	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
}

package provider

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
)

// Adapter call timeouts. Image generation polls long-running predictions.
const (
	ChatTimeout  = 30 * time.Second
	ImageTimeout = 120 * time.Second
	AudioTimeout = 120 * time.Second
)

// NewTransport returns a tuned *http.Transport with keep-alive connection
// pooling shared by all adapters, and optional DNS caching.
func NewTransport(resolver *dnscache.Resolver, maxPerHost int) *http.Transport {
	if maxPerHost <= 0 {
		maxPerHost = 100
	}
	t := &http.Transport{
		MaxIdleConnsPerHost: maxPerHost,
		MaxConnsPerHost:     2 * maxPerHost,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}
	return t
}

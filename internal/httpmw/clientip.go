package httpmw

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type (
	clientIPKey    struct{}
	trustedPeerKey struct{}
)

// ClientIPOptions controls how much of X-Forwarded-For is trusted.
type ClientIPOptions struct {
	// TrustedHops is the number of reverse proxies in front of the gateway.
	// 0 ignores X-Forwarded-For, 1 takes the rightmost entry (single load
	// balancer), 2 the second from the right (CDN then load balancer).
	TrustedHops int
}

// ClientIP resolves the caller origin with no trusted proxies.
func ClientIP(next http.Handler) http.Handler {
	return ClientIPWithOptions(ClientIPOptions{})(next)
}

// ClientIPWithOptions resolves the caller origin and stores it in the request
// context. An origin that cannot be resolved is left unset so the limiter
// groups it under its unknown-origin key. Whether the peer is one of the
// trusted proxies is stored too, Subject consults it.
func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolveOrigin(r, opts.TrustedHops)
			ctx := WithClientIP(r.Context(), ip)
			if trustedPeer(r, opts.TrustedHops) {
				ctx = context.WithValue(ctx, trustedPeerKey{}, true)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func peerIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(strings.TrimSpace(host))
}

// trustedPeer reports whether the connection comes from a proxy whose
// forwarded headers are honoured: a private peer with trustedHops > 0.
func trustedPeer(r *http.Request, trustedHops int) bool {
	peer := peerIP(r)
	return peer != nil && peer.IsPrivate() && trustedHops > 0
}

// TrustedPeerFromContext reports whether ClientIPWithOptions saw a trusted proxy peer.
func TrustedPeerFromContext(ctx context.Context) bool {
	v, _ := ctx.Value(trustedPeerKey{}).(bool)
	return v
}

func stripForwarded(r *http.Request) {
	r.Header.Del("X-Forwarded-For")
	r.Header.Del("X-Forwarded-Proto")
}

// resolveOrigin returns the peer IP, or the Nth-from-right X-Forwarded-For
// entry when the peer is a private address and trustedHops > 0.
// Forwarded headers that are not trusted are removed from the request.
func resolveOrigin(r *http.Request, trustedHops int) string {
	peer := peerIP(r)
	if peer == nil {
		stripForwarded(r)
		return ""
	}
	addr := peer.String()

	if !peer.IsPrivate() || trustedHops <= 0 {
		stripForwarded(r)
		return addr
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return addr
	}
	parts := strings.Split(xff, ",")
	idx := len(parts) - trustedHops
	if idx < 0 {
		// fewer hops than configured proxies: fail closed
		stripForwarded(r)
		return addr
	}
	if candidate := net.ParseIP(strings.TrimSpace(parts[idx])); candidate != nil {
		return candidate.String()
	}
	return addr
}

// ClientIPFromContext returns the resolved origin, "" when unresolved.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}

package middleware

import (
	"net"
	"net/http"

	"github.com/MrEthical07/rentauth"
)

// ClientInfo copies the peer address and User-Agent onto the request context.
// It trusts r.RemoteAddr only; put it behind a proxy-aware RealIP middleware
// when the service sits behind a load balancer.
func ClientInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		ctx := rentauth.WithClientIP(r.Context(), ip)
		ctx = rentauth.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

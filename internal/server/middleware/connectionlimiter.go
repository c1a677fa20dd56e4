package middleware

import (
	"log/slog"
	"net/http"

	"github.com/HynixCorp/reach-backend-sub000/pkg/config"
)

// ClientConnectionCounter reports how many open overlay connections an
// address currently holds.
type ClientConnectionCounter func(ip string) int

// ClientConnectionCycler closes an address's oldest connection to make room.
type ClientConnectionCycler func(ip string)

// NewConnectionLimiter caps simultaneous overlay connections per client
// address. The overlay identity is only known after the in-band identify
// event, so the limit keys on the remote address rather than the identity.
func NewConnectionLimiter(
	logger *slog.Logger,
	counter ClientConnectionCounter,
	cycler ClientConnectionCycler,
	cfg config.ConnectionLimitConfig,
) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.MaxPerClient <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				logger.Error("Connection limiter could not find request metadata in context. Check middleware order.")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			count := counter(reqMeta.IP)
			if count < cfg.MaxPerClient {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("Client connection limit reached", slog.String("ip", reqMeta.IP), slog.Int("count", count))
			switch cfg.Mode {
			case "reject":
				http.Error(w, "Too Many Active Connections", http.StatusTooManyRequests)
			case "cycle":
				cycler(reqMeta.IP)
				next.ServeHTTP(w, r)
			default:
				logger.Error("Invalid connection limit mode configured", slog.String("mode", cfg.Mode))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		})
	}
}

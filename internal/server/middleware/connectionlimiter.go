package middleware

import (
	"log/slog"
	"net/http"

	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/config"
)

type PlayerConnectionCounter func(playerID string) int
type PlayerConnectionCycler func(playerID string)

func NewConnectionLimiter(
	logger *slog.Logger,
	counter PlayerConnectionCounter,
	cycler PlayerConnectionCycler,
	config config.ConnectionLimitConfig,
) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.MaxPerUser <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				logger.Error("Connection limiter could not find request metadata in context. Check middleware order.")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			if reqMeta.PlayerID == "" {
				logger.Warn("Connection limiter could not determine playerID from metadata; blocking request.")
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			count := counter(reqMeta.PlayerID)
			if count < config.MaxPerUser {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("Player connection limit reached", slog.String("playerID", reqMeta.PlayerID), slog.Int("count", count))
			switch config.Mode {
			case "reject":
				http.Error(w, "Too Many Active Connections", http.StatusTooManyRequests)
				return
			case "cycle":
				cycler(reqMeta.PlayerID)
				next.ServeHTTP(w, r)
			default:
				logger.Error("Invalid connection limit mode configured", slog.String("mode", config.Mode))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

		})
	}
}

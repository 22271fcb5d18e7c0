package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/credentials"
)

const (
	sessionHeader = "X-Session-ID"
	sessionQuery  = "session_id"
	tokenQuery    = "token"
)

// tokenFrom looks for a credential in the session cookie, then a bearer
// Authorization header, then the token query parameter. Browsers cannot set
// headers on websocket upgrades, hence the fallbacks.
func tokenFrom(r *http.Request, cookieName string) string {
	if cookieName != "" {
		if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
			return cookie.Value
		}
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get(tokenQuery)
}

// NewAuthMiddleware verifies the request's credential and records the player
// and session it names. An explicit session id in the query or header wins
// over the token's sid claim.
func NewAuthMiddleware(logger *slog.Logger, verifier credentials.Verifier, cookieName string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

			// couldn't extract metadata from request so something went wrong with previous middlewares
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			tokenString := tokenFrom(r, cookieName)
			if tokenString == "" {
				logger.Warn("Credential missing in request", slog.String("ip", reqMeta.IP))
				http.Error(w, "Missing token", http.StatusUnauthorized)
				return
			}

			claims, err := verifier.Verify(tokenString)
			if err != nil {
				logger.Warn("Invalid credential presented", slog.String("ip", reqMeta.IP), slog.Any("error", err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			reqMeta.PlayerID = claims.Subject
			reqMeta.Token = tokenString
			reqMeta.SessionID = r.URL.Query().Get(sessionQuery)
			if reqMeta.SessionID == "" {
				reqMeta.SessionID = r.Header.Get(sessionHeader)
			}
			if reqMeta.SessionID == "" {
				reqMeta.SessionID = claims.SessionID
			}
			next.ServeHTTP(w, r)
		})
	}
}

package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/nivant/tokensettle/internal/api/problem"
)

// PublicRateLimiter throttles unauthenticated routes, the webhook above all,
// keyed by client IP. KeyByRealIP trusts the forwarding headers set by the
// ingress in front of this service.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			problem.Write(
				w,
				r,
				http.StatusTooManyRequests,
				problem.Type("too-many-requests"),
				http.StatusText(http.StatusTooManyRequests),
				fmt.Sprintf("request rate above %d per second from this address", rps),
			)
		}),
	)
}

// AuthRateLimiter throttles authenticated callers per subject, falling back
// to the client IP when the token carries no subject.
func AuthRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if userID := UserIDFromContext(r.Context()); userID != "" {
				return userID, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			problem.Write(
				w,
				r,
				http.StatusTooManyRequests,
				problem.Type("too-many-requests"),
				http.StatusText(http.StatusTooManyRequests),
				fmt.Sprintf("request rate above %d per second for this account", rps),
			)
		}),
	)
}

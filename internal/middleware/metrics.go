package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/crewgate/internal/handler"
)

// metricsRealm is advertised in the WWW-Authenticate challenge.
const metricsRealm = `Basic realm="crewgate-metrics"`

// MetricsAuthMiddleware guards the Prometheus scrape endpoint with HTTP
// basic auth. It is disabled when no credentials are configured.
type MetricsAuthMiddleware struct {
	username []byte
	password []byte
	enabled  bool
	logger   *slog.Logger
}

func NewMetricsAuthMiddleware(username, password string, logger *slog.Logger) *MetricsAuthMiddleware {
	return &MetricsAuthMiddleware{
		username: []byte(username),
		password: []byte(password),
		enabled:  username != "" || password != "",
		logger:   logger,
	}
}

// Handler rejects scrapes whose credentials do not match.
func (m *MetricsAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled {
			next.ServeHTTP(w, r)
			return
		}

		user, pass, ok := r.BasicAuth()
		// Both comparisons always run.
		userOK := subtle.ConstantTimeCompare([]byte(user), m.username) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), m.password) == 1
		if !ok || !userOK || !passOK {
			m.logger.Warn("metrics scrape rejected", "ip", getClientIP(r), "credentials_sent", ok)
			w.Header().Set("WWW-Authenticate", metricsRealm)
			handler.UnauthorizedResponse(w, r, m.logger)
			return
		}

		next.ServeHTTP(w, r)
	})
}

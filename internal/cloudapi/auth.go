package cloudapi

import (
	"context"
	"net/http"

	"github.com/sigillo-iot/sigillo/internal/config"
)

// apiKeyHeader carries the caller's API key.
const apiKeyHeader = "X-API-Key"

type userContextKey struct{}

// authenticate resolves the API key to a user or rejects the request.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, hr *http.Request) {
		key := hr.Header.Get(apiKeyHeader)

		user, ok := s.apiKeys[key]
		if key == "" || !ok {
			s.log.WarnContext(hr.Context(), "rejected request with unknown api key", "path", hr.URL.Path)
			writeJSON(rw, http.StatusForbidden, map[string]any{
				"conferma_ricezione": false,
				"messaggio":          "chiave API non valida",
			})

			return
		}

		ctx := context.WithValue(hr.Context(), userContextKey{}, user)
		next.ServeHTTP(rw, hr.WithContext(ctx))
	})
}

// requireProducer gates write endpoints on the producer role. Producers may
// also verify, so read endpoints accept both roles and need no extra gate.
func (s *Server) requireProducer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, hr *http.Request) {
		user, _ := hr.Context().Value(userContextKey{}).(config.APIUser)

		if user.Role != config.RoleProducer {
			s.log.WarnContext(hr.Context(), "rejected write with insufficient role",
				"path", hr.URL.Path,
				"user", user.Name,
				"role", user.Role)
			writeJSON(rw, http.StatusForbidden, map[string]any{
				"conferma_ricezione": false,
				"messaggio":          "ruolo insufficiente",
			})

			return
		}

		next.ServeHTTP(rw, hr)
	})
}

package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// Middleware authenticates bearer tokens and enforces a Policy.
type Middleware struct {
	secret []byte
	policy Policy
	logger logrus.FieldLogger
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(secret []byte, policy Policy, logger logrus.FieldLogger) *Middleware {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Middleware{secret: secret, policy: policy, logger: logger}
}

// Wrap authenticates the request and stores the caller's identity in its context.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		required, ok := m.policy.RequiredRole(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := ParseJWT(bearerToken(r), m.secret)
		if err != nil {
			m.logger.WithField("path", r.URL.Path).WithError(err).Debug("request unauthenticated")
			message := "invalid token"
			if errors.Is(err, ErrMissingToken) {
				message = "missing bearer token"
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="billing"`)
			reject(w, http.StatusUnauthorized, message)
			return
		}
		if !claims.Role.Grants(required) {
			m.logger.WithFields(logrus.Fields{
				"path":     r.URL.Path,
				"subject":  claims.Subject,
				"role":     claims.Role,
				"required": required,
			}).Info("request forbidden")
			reject(w, http.StatusForbidden, "role "+string(required)+" required")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), claims.Role, claims.Subject)))
	})
}

func reject(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

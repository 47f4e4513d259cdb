// Package auth guards the management API with a shared bearer token.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Config selects the token. TokenFile wins over Token when both are set.
// An empty token disables authentication.
type Config struct {
	Token     string `mapstructure:"token"`
	TokenFile string `mapstructure:"token_file"`
}

// Middleware checks "Authorization: Bearer <token>" on every request.
type Middleware struct {
	token   []byte
	enabled bool
}

func NewMiddleware(c Config) (*Middleware, error) {
	token := strings.TrimSpace(c.Token)
	if c.TokenFile != "" {
		b, err := os.ReadFile(c.TokenFile)
		if err != nil {
			return nil, err
		}
		token = strings.TrimSpace(string(b))
	}
	return &Middleware{token: []byte(token), enabled: token != ""}, nil
}

func (m *Middleware) Enabled() bool { return m.enabled }

// GinAuth returns a Gin middleware function for authentication
func (m *Middleware) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.enabled {
			c.Next()
			return
		}
		if err := m.authenticate(c.Request); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "authentication_failed",
				"message": "Authentication required",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// HTTPAuth returns a standard HTTP middleware function for authentication
func (m *Middleware) HTTPAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.enabled {
			if err := m.authenticate(r); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"authentication_failed","message":"Authentication required"}`))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) authenticate(r *http.Request) error {
	scheme, value, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(value)), m.token) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var errMissingActor = errors.New("actor identity required: set X-Actor-ID")

// authError is a rejected bearer token.
type authError struct {
	reason string
}

func (e *authError) Error() string { return "unauthorized: " + e.reason }

// Authenticator extracts the calling actor from a request.
//
// With a secret, an HS256 bearer token is required and its subject is the actor.
// Without one, the X-Actor-ID header (or actor_id query parameter) is trusted,
// which suits deployments behind an authenticating gateway.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator returns an Authenticator. An empty secret selects header mode.
func NewAuthenticator(secret string) *Authenticator {
	a := &Authenticator{}
	if secret != "" {
		a.secret = []byte(secret)
	}
	return a
}

// Actor returns the actor id for r.
func (a *Authenticator) Actor(r *http.Request) (string, error) {
	if a.secret == nil {
		if id := r.Header.Get("X-Actor-ID"); id != "" {
			return id, nil
		}
		if id := r.URL.Query().Get("actor_id"); id != "" {
			return id, nil
		}
		return "", errMissingActor
	}

	raw := extractBearer(r)
	if raw == "" {
		return "", &authError{reason: "missing bearer token"}
	}
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", &authError{reason: fmt.Sprintf("invalid token: %v", err)}
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", &authError{reason: "token has no subject"}
	}
	return sub, nil
}

func extractBearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// Package auth checks the shared bearer token a websocket client presents
// when upgrading to a scene-graph session.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

const bearerScheme = "Bearer "

// Validator validates an authentication token.
type Validator interface {
	Validate(token string) error
}

// StaticToken accepts exactly one shared token. An empty Token rejects
// everything.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(token string) error

func (f FuncValidator) Validate(token string) error {
	return f(token)
}

// BearerHeader sets the Authorization header for token on h. An empty token
// leaves h untouched.
func BearerHeader(h http.Header, token string) {
	if token = strings.TrimSpace(token); token != "" {
		h.Set("Authorization", bearerScheme+token)
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	if len(header) < len(bearerScheme) || !strings.EqualFold(header[:len(bearerScheme)], bearerScheme) {
		return "", ErrUnauthorized
	}
	token := strings.TrimSpace(header[len(bearerScheme):])
	if token == "" {
		return "", ErrUnauthorized
	}
	return token, nil
}

// CheckRequest validates the bearer token carried by r.
func CheckRequest(v Validator, r *http.Request) error {
	token, err := BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return err
	}
	return v.Validate(token)
}

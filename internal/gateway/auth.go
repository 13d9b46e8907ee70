package gateway

import (
	"errors"
	"time"

	"pongnet/core/internal/auth"
)

// Authenticator validates the credentials a player presents in its auth frame.
type Authenticator interface {
	Authenticate(token, userID string) error
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(token, userID string) error

// Authenticate implements Authenticator.
func (f AuthenticatorFunc) Authenticate(token, userID string) error { return f(token, userID) }

type hmacAuthenticator struct {
	verifier *auth.HMACTokenVerifier
}

// NewHMACAuthenticator accepts HS256 tokens whose subject equals the claimed user id.
func NewHMACAuthenticator(secret string, leeway time.Duration) (Authenticator, error) {
	verifier, err := auth.NewHMACTokenVerifier(secret, leeway)
	if err != nil {
		return nil, err
	}
	return &hmacAuthenticator{verifier: verifier}, nil
}

func (a *hmacAuthenticator) Authenticate(token, userID string) error {
	if a == nil || a.verifier == nil {
		return errors.New("verifier not configured")
	}
	if userID == "" {
		return errors.New("missing user id")
	}
	_, err := a.verifier.Authenticate(token, userID)
	return err
}

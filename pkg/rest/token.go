package rest

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired is returned before any request is made when the stored
// bearer token's exp claim has passed.
var ErrTokenExpired = errors.New("rest: bearer token expired")

// checkExpiry inspects the token's exp claim without verifying the signature.
// Verification is the server's job; the client only wants to fail fast on a
// token it knows is dead. Tokens that are not JWTs, or carry no exp claim,
// pass through untouched.
func checkExpiry(token string) error {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if time.Now().After(exp.Time) {
		return fmt.Errorf("%w (at %s)", ErrTokenExpired, exp.Time.Format(time.RFC3339))
	}
	return nil
}

package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSubject is returned for tokens without a sub claim.
var ErrNoSubject = errors.New("token has no subject")

// UserIDFromToken reads the user id from the sub claim of a backend access
// token. The signature is not checked: the backend verifies the token on
// every request, this only tells the daemon whose diary it is syncing.
func UserIDFromToken(token string) (string, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("parse access token: %w", err)
	}
	if claims.Subject == "" {
		return "", ErrNoSubject
	}
	return claims.Subject, nil
}

// ResolveUserID picks the diary owner: an explicit id wins, then the
// token subject, then fallback.
func ResolveUserID(explicit, token, fallback string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if token == "" {
		return fallback, nil
	}
	sub, err := UserIDFromToken(token)
	if err != nil {
		return fallback, err
	}
	return sub, nil
}

// Package auth verifies the signed bearer credential a client presents
// when it opens a signaling connection.
package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mlevan/huddle/internal/domain"
)

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidToken      = errors.New("invalid token")
)

// Claims carries the stable user identity minted by the account service.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify checks signature and expiry and extracts the userId claim.
func (v *Verifier) Verify(credential string) (domain.UserID, error) {
	token, err := jwt.ParseWithClaims(credential, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return "", ErrInvalidToken
	}
	return domain.UserID(claims.UserID), nil
}

// CredentialFromRequest pulls the token from the HttpOnly cookie, falling
// back to the `token` query parameter for clients that cannot send cookies
// cross-origin.
func CredentialFromRequest(r *http.Request) (string, error) {
	if c, err := r.Cookie("token"); err == nil && c.Value != "" {
		return c.Value, nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", ErrMissingCredential
}

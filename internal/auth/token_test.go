package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, userID string, expiresIn time.Duration) string {
	t.Helper()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return signed
}

func TestVerify(t *testing.T) {
	v := NewVerifier(testSecret)

	tests := []struct {
		name       string
		credential string
		wantUser   string
		wantErr    error
	}{
		{
			name:       "valid token",
			credential: signToken(t, testSecret, "user-1", time.Hour),
			wantUser:   "user-1",
		},
		{
			name:       "expired token",
			credential: signToken(t, testSecret, "user-1", -time.Hour),
			wantErr:    ErrInvalidToken,
		},
		{
			name:       "wrong signature",
			credential: signToken(t, "other-secret", "user-1", time.Hour),
			wantErr:    ErrInvalidToken,
		},
		{
			name:       "malformed token",
			credential: "not-a-jwt",
			wantErr:    ErrInvalidToken,
		},
		{
			name:       "missing user claim",
			credential: signToken(t, testSecret, "", time.Hour),
			wantErr:    ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uid, err := v.Verify(tt.credential)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Verify err=%v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if string(uid) != tt.wantUser {
				t.Fatalf("Verify user=%q, want %q", uid, tt.wantUser)
			}
		})
	}
}

func TestCredentialFromRequest(t *testing.T) {
	t.Run("cookie", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/ws", nil)
		r.AddCookie(&http.Cookie{Name: "token", Value: "cookie-token"})
		got, err := CredentialFromRequest(r)
		if err != nil {
			t.Fatalf("CredentialFromRequest: %v", err)
		}
		if got != "cookie-token" {
			t.Fatalf("credential=%q, want %q", got, "cookie-token")
		}
	})

	t.Run("query fallback", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/ws?token=query-token", nil)
		got, err := CredentialFromRequest(r)
		if err != nil {
			t.Fatalf("CredentialFromRequest: %v", err)
		}
		if got != "query-token" {
			t.Fatalf("credential=%q, want %q", got, "query-token")
		}
	})

	t.Run("cookie wins over query", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/ws?token=query-token", nil)
		r.AddCookie(&http.Cookie{Name: "token", Value: "cookie-token"})
		got, err := CredentialFromRequest(r)
		if err != nil {
			t.Fatalf("CredentialFromRequest: %v", err)
		}
		if got != "cookie-token" {
			t.Fatalf("credential=%q, want %q", got, "cookie-token")
		}
	})

	t.Run("missing", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/ws", nil)
		if _, err := CredentialFromRequest(r); !errors.Is(err, ErrMissingCredential) {
			t.Fatalf("err=%v, want %v", err, ErrMissingCredential)
		}
	})
}

// internal/auth/auth.go
//
// Connection identity verification.
// The server never manages accounts or credentials itself; it only
// verifies HS256 JWTs minted by the external identity service. Tokens
// arrive as a bearer header, an auth cookie, or a `token` query param
// (websocket clients cannot set headers during the upgrade).

package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName is the auth cookie the browser client carries.
const CookieName = "pong_token"

var ErrInvalidToken = errors.New("invalid token")

// Identity is the verified subject of a connection.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Verifier checks tokens against a shared HS256 secret.
type Verifier struct {
	secret []byte
}

// NewVerifier constructs a Verifier for the given secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a token, returning the identity it
// carries. Tokens without both id and username claims are rejected.
func (v *Verifier) Verify(tokenStr string) (Identity, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	id, _ := claims["id"].(string)
	username, _ := claims["username"].(string)
	if id == "" || username == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{ID: id, Username: username}, nil
}

// TokenFromRequest extracts a token from the Authorization header, the
// auth cookie, or the token query parameter, in that order. Empty when
// the request carries none.
func TokenFromRequest(r *http.Request) string {
	if a := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(a), "bearer ") {
		return strings.TrimSpace(a[7:])
	}
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/manoj8260/ConnectSphere/internal/models"
)

var (
	ErrUnauthorized      = errors.New("invalid or expired token")
	ErrMissingAuthHeader = errors.New("missing or malformed Authorization header")
)

// Verifier validates bearer tokens issued by the auth service and extracts
// the identity bound to them. It is stateless.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Verify checks signature and expiry and extracts {user_id, username}.
// Both the nested claims.user.username shape and the older flat
// claims.username shape are accepted.
func (v *Verifier) Verify(tokenString string) (models.Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !token.Valid {
		return models.Identity{}, ErrUnauthorized
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.Identity{}, ErrUnauthorized
	}
	identity, ok := identityFromClaims(claims)
	if !ok {
		return models.Identity{}, fmt.Errorf("%w: token carries no identity", ErrUnauthorized)
	}
	return identity, nil
}

func identityFromClaims(claims jwt.MapClaims) (models.Identity, bool) {
	if user, ok := claims["user"].(map[string]interface{}); ok {
		username, _ := user["username"].(string)
		uid := stringClaim(user, "uid", "user_id", "id")
		if username != "" && uid != "" {
			return models.Identity{UserID: uid, Username: username}, true
		}
	}

	username, _ := claims["username"].(string)
	uid := stringClaim(claims, "user_id", "uid", "sub")
	if username == "" || uid == "" {
		return models.Identity{}, false
	}
	return models.Identity{UserID: uid, Username: username}, true
}

func stringClaim(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			// JWT numbers get decoded as float64
			return fmt.Sprintf("%d", int64(v))
		}
	}
	return ""
}

// TokenFromHeader extracts the bearer token from an Authorization header.
func TokenFromHeader(authHeader string) (string, error) {
	if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
		return "", ErrMissingAuthHeader
	}
	return strings.TrimPrefix(authHeader, "Bearer "), nil
}

package auth

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrMissingUser  = errors.New("user_id is required")
)

// Identity is who a websocket connection speaks for.
type Identity struct {
	UserID   string
	UserName string
}

// Claims mirror what the account service signs: the user id plus an optional
// display name.
type Claims struct {
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Verifier resolves connection identities. With an empty secret it trusts the
// caller-supplied ids, which is only meant for local development.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

func (v *Verifier) Enabled() bool { return len(v.secret) > 0 }

// Resolve returns the identity for a connection attempt. fallbackName is used
// when the token carries no display name.
func (v *Verifier) Resolve(token, userID, fallbackName string) (Identity, error) {
	if !v.Enabled() {
		userID = strings.TrimSpace(userID)
		if userID == "" {
			return Identity{}, ErrMissingUser
		}
		return Identity{UserID: userID, UserName: displayName(fallbackName)}, nil
	}

	claims, err := v.parse(strings.TrimPrefix(token, "Bearer "))
	if err != nil {
		return Identity{}, err
	}
	name := claims.Name
	if name == "" {
		name = fallbackName
	}
	return Identity{UserID: claims.UserID, UserName: displayName(name)}, nil
}

func (v *Verifier) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func displayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Anonymous"
	}
	return name
}

// Package auth reads the optional identity token issued by the PeerBajaj
// profile service.
//
// The editor never logs anyone in. A client that already has a profile
// session passes its token along (cookie, query string or bearer header)
// and the server uses the token's name as the default display name. A
// client without one is simply anonymous and names itself.
//
// TOKEN FORMAT:
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"sub":"<userId>","name":"<displayName>","iss":"peerbajaj","exp":...}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
//
// The profile service and this server share the HMAC secret, so a token can
// be verified without calling back to the profile service.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the "iss" claim every accepted token must carry.
const Issuer = "peerbajaj"

// Identity is who a token says the caller is.
type Identity struct {
	UserID      string
	DisplayName string
}

// TokenService signs and verifies identity tokens.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService with the given secret.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret)}, nil
}

// claims is the JWT payload: the registered claims plus the profile name.
type claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Generate signs a token for id that expires after ttl.
// Production tokens come from the profile service; this exists for tests
// and local development.
func (s *TokenService) Generate(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()

	c := claims{
		Name: id.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a token.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid
//   - Token is not expired, and has an expiry at all
//   - Issuer is "peerbajaj"
//   - Algorithm is HS256, so a token claiming "alg":"none" is refused
func (s *TokenService) Validate(tokenStr string) (Identity, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, fmt.Errorf("auth: token expired")
		}
		return Identity{}, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return Identity{}, fmt.Errorf("auth: invalid token claims")
	}
	if c.Subject == "" {
		return Identity{}, fmt.Errorf("auth: token has no subject")
	}

	return Identity{UserID: c.Subject, DisplayName: c.Name}, nil
}

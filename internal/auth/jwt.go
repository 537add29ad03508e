package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errInvalidToken = errors.New("auth: invalid token")

// jwtClaims is the gateway's minimal claim set: a subject and the standard
// registered claims, no embedded profile data.
type jwtClaims struct {
	jwt.RegisteredClaims
}

// jwtService signs and verifies HS256 bearer tokens.
type jwtService struct {
	secret []byte
	expiry time.Duration
}

func newJWTService(secret string, expiry time.Duration) *jwtService {
	return &jwtService{secret: []byte(secret), expiry: expiry}
}

func (s *jwtService) generate(subject string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("auth: subject required")
	}
	if ttl <= 0 {
		ttl = s.expiry
	}
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *jwtService) validate(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwtClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", errInvalidToken
	}
	claims, ok := parsed.Claims.(*jwtClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", errInvalidToken
	}
	return claims.Subject, nil
}

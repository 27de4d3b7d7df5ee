package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MagicLinkType is the only token purpose the service accepts.
const MagicLinkType = "magic_link"

// ErrInvalidToken covers every rejection. Callers treat it as "not signed in".
var ErrInvalidToken = errors.New("invalid token")

type TokenService struct {
	secret []byte
	ttl    time.Duration
}

type Claims struct {
	Email string `json:"email"`
	Type  string `json:"type"`
	jwt.RegisteredClaims
}

func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// TTL is also the lifetime of the session cookie carrying the token.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

func (s *TokenService) Issue(email string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.ttl)

	claims := Claims{
		Email: email,
		Type:  MagicLinkType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing magic link token: %w", err)
	}

	return token, expiresAt, nil
}

// Verify returns the email bound to a valid token.
func (s *TokenService) Verify(tokenString string) (string, error) {
	if strings.Count(tokenString, ".") != 2 {
		return s.reject("malformed", nil)
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return s.reject("expired", err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return s.reject("bad signature", err)
		default:
			return s.reject("unparseable", err)
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return s.reject("invalid claims", nil)
	}
	if claims.Type != MagicLinkType {
		return s.reject("wrong type", nil)
	}
	if strings.TrimSpace(claims.Email) == "" {
		return s.reject("missing email", nil)
	}

	return claims.Email, nil
}

func (s *TokenService) reject(reason string, err error) (string, error) {
	attrs := []any{"component", "auth", "reason", reason}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	slog.Warn("rejected magic link token", attrs...)
	return "", ErrInvalidToken
}

package dispatch

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultTokenDuration = 15 * time.Minute

// Claims are the JWT claims of a verification token. Subject is the
// verified number in E.164 form.
type Claims struct {
	jwt.RegisteredClaims
	Carrier string `json:"carrier"`
	Channel string `json:"channel"`
}

// TokenIssuer mints and validates HS256 verification tokens.
type TokenIssuer struct {
	secret   []byte
	duration time.Duration
	issuer   string
}

// NewTokenIssuer creates a TokenIssuer. An empty secret generates a random
// one, so tokens do not survive a restart.
func NewTokenIssuer(secret string, duration time.Duration) (*TokenIssuer, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating token secret: %w", err)
		}
	}
	if duration <= 0 {
		duration = defaultTokenDuration
	}
	return &TokenIssuer{secret: key, duration: duration, issuer: "telecom"}, nil
}

// Issue signs a token for number verified through carrier on channel.
func (ti *TokenIssuer) Issue(number, carrier, channel string, now time.Time) (string, time.Time, error) {
	expires := now.Add(ti.duration)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ti.issuer,
			Subject:   number,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
		Carrier: carrier,
		Channel: channel,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ti.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expires, nil
}

// Validate parses and verifies a token string.
func (ti *TokenIssuer) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ti.secret, nil
	}, jwt.WithIssuer(ti.issuer))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

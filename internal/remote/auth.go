package remote

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenTTL bounds the lifetime of a connection token. A fresh token is
// minted for every connection attempt, so the TTL only needs to outlive
// the handshake by a comfortable margin.
const tokenTTL = time.Hour

// signToken mints the HS256 bearer token presented during the websocket
// handshake. The client identifier rides in the subject claim.
func signToken(secret, clientID string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   clientID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

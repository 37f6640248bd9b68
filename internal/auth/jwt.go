package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// StreamClaims represents the claims in a stream token. The token binds a
// websocket upgrade to the call the answer endpoint provisioned it for.
type StreamClaims struct {
	CallID string `json:"call_id"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and validates short-lived stream tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer creates an issuer. The TTL only needs to cover the gap
// between answering the call and the provider opening the stream socket.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// GenerateStreamToken generates a token authorizing one stream connection
// for the given call.
func (i *TokenIssuer) GenerateStreamToken(callID string) (string, error) {
	claims := &StreamClaims{
		CallID: callID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// ValidateStreamToken validates a token and returns its claims.
func (i *TokenIssuer) ValidateStreamToken(tokenString string) (*StreamClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &StreamClaims{}, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*StreamClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrInvalidKey
	}
	if claims.CallID == "" {
		return nil, fmt.Errorf("stream token missing call_id")
	}
	return claims, nil
}

// Package auth issues and checks the bearer tokens for the HTTP API.
//
// The model is deliberately small: one API key, whose bcrypt hash lives in
// the server configuration, is exchanged for a short-lived HS256 JWT. There
// are no users and no token table; revocation is "wait for expiry or rotate
// the secret".
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const issuer = "aideepspeak"

// TokenService handles JWT creation and validation
type TokenService struct {
	secretKey  []byte
	apiKeyHash string

	// TokenDuration bounds how long an issued token stays valid
	TokenDuration time.Duration // Default: 1 hour
}

// TokenResponse is returned from a successful key exchange
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	TokenType   string    `json:"token_type"` // "Bearer"
}

// APIClaims represents the claims in our JWT tokens
type APIClaims struct {
	jwt.RegisteredClaims
}

// NewTokenService creates a token service. The apiKeyHash is a bcrypt hash
// as produced by HashAPIKey.
func NewTokenService(secretKey, apiKeyHash string) *TokenService {
	return &TokenService{
		secretKey:     []byte(secretKey),
		apiKeyHash:    apiKeyHash,
		TokenDuration: 1 * time.Hour,
	}
}

// HashAPIKey derives the bcrypt hash to store in the configuration.
func HashAPIKey(apiKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(hash), nil
}

// Exchange verifies the API key and returns a signed token.
func (ts *TokenService) Exchange(apiKey string) (*TokenResponse, error) {
	if err := bcrypt.CompareHashAndPassword([]byte(ts.apiKeyHash), []byte(apiKey)); err != nil {
		return nil, fmt.Errorf("invalid API key")
	}

	expiresAt := time.Now().Add(ts.TokenDuration)
	claims := &APIClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    issuer,
			Subject:   "api",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign JWT: %w", err)
	}

	return &TokenResponse{
		AccessToken: signed,
		ExpiresAt:   expiresAt,
		TokenType:   "Bearer",
	}, nil
}

// Validate parses and verifies a token string.
func (ts *TokenService) Validate(tokenString string) (*APIClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &APIClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ts.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*APIClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/V1vekW/OPTIC-SHIELD/internal/config"
)

// JWTManager issues and validates short-lived device access tokens. A
// device exchanges its API key for a token once and uses the Bearer
// header afterwards.
type JWTManager struct {
	config *config.AuthConfig
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(cfg *config.AuthConfig) *JWTManager {
	return &JWTManager{
		config: cfg,
	}
}

// Claims represents device token claims
type Claims struct {
	jwt.RegisteredClaims
	DeviceID string `json:"device_id,omitempty"`
}

// GenerateDeviceToken generates an access token for a device
func (m *JWTManager) GenerateDeviceToken(deviceID string) (string, error) {
	if m.config.JWTSecret == "" {
		return "", fmt.Errorf("jwt secret not configured")
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   deviceID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.config.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "optic-shield",
			ID:        uuid.New().String(),
		},
		DeviceID: deviceID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign device token: %w", err)
	}

	return signed, nil
}

// ValidateToken validates a token
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	if m.config.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret not configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.config.JWTSecret), nil
	})

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}

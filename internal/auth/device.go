// Package auth verifies edge-device credentials before any store
// mutation. Three mechanisms, matching the fielded devices: a shared API
// key (X-API-Key, plain or bcrypt-hashed in config), an optional
// HMAC-SHA256 request signature (X-Signature over
// "{device_id}:{timestamp}:{body}"), and short-lived JWT bearer tokens.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/V1vekW/OPTIC-SHIELD/internal/config"
	"github.com/V1vekW/OPTIC-SHIELD/pkg/crypto"
)

// ErrUnauthorized is returned for any credential failure
var ErrUnauthorized = errors.New("unauthorized")

// Verifier checks device credentials on incoming write requests
type Verifier struct {
	config *config.AuthConfig
	tokens *JWTManager
}

// NewVerifier creates a verifier from the auth configuration
func NewVerifier(cfg *config.AuthConfig, tokens *JWTManager) *Verifier {
	return &Verifier{
		config: cfg,
		tokens: tokens,
	}
}

// VerifyRequest checks the credentials on r. The body is passed
// separately because the HMAC signature covers it and the handler still
// needs to read it.
func (v *Verifier) VerifyRequest(r *http.Request, body []byte) error {
	// Bearer token short-circuits the key checks
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return fmt.Errorf("%w: invalid authorization header", ErrUnauthorized)
		}
		if _, err := v.tokens.ValidateToken(parts[1]); err != nil {
			return fmt.Errorf("%w: invalid token", ErrUnauthorized)
		}
		return nil
	}

	apiKey := r.Header.Get("X-API-Key")
	if apiKey == "" {
		return fmt.Errorf("%w: missing API key", ErrUnauthorized)
	}
	if !v.VerifyAPIKey(apiKey) {
		return fmt.Errorf("%w: invalid API key", ErrUnauthorized)
	}

	if v.config.DeviceSecret != "" {
		if err := v.verifySignature(r, body); err != nil {
			return err
		}
	}

	return nil
}

// VerifyAPIKey checks the shared device key. The bcrypt hash wins when
// both forms are configured; with neither configured every key is
// rejected.
func (v *Verifier) VerifyAPIKey(key string) bool {
	if v.config.APIKeyHash != "" {
		return crypto.VerifyAPIKeyHash(key, v.config.APIKeyHash)
	}
	if v.config.APIKey != "" {
		return crypto.ConstantTimeEquals(key, v.config.APIKey)
	}
	return false
}

func (v *Verifier) verifySignature(r *http.Request, body []byte) error {
	deviceID := r.Header.Get("X-Device-ID")
	timestamp := r.Header.Get("X-Timestamp")
	signature := r.Header.Get("X-Signature")

	if deviceID == "" || timestamp == "" || signature == "" {
		return fmt.Errorf("%w: missing signature headers", ErrUnauthorized)
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid timestamp", ErrUnauthorized)
	}

	skew := time.Since(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.config.MaxClockSkew {
		return fmt.Errorf("%w: timestamp outside allowed window", ErrUnauthorized)
	}

	if !crypto.VerifySignature(v.config.DeviceSecret, deviceID, timestamp, body, signature) {
		return fmt.Errorf("%w: invalid signature", ErrUnauthorized)
	}

	return nil
}

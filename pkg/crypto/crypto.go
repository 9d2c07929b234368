package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashAPIKey hashes an API key using bcrypt
func HashAPIKey(key string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	return string(bytes), err
}

// VerifyAPIKeyHash verifies an API key against a bcrypt hash
func VerifyAPIKeyHash(key, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key))
	return err == nil
}

// ConstantTimeEquals compares two strings in constant time
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// SignPayload computes the hex HMAC-SHA256 device signature over
// "{device_id}:{timestamp}:{body}"
func SignPayload(secret, deviceID, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s:%s:", deviceID, timestamp)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a device signature in constant time
func VerifySignature(secret, deviceID, timestamp string, body []byte, signature string) bool {
	expected := SignPayload(secret, deviceID, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// GenerateRandomString generates a URL-safe random string
func GenerateRandomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

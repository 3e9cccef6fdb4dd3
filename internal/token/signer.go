package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// PlaceholderSecret is the documented development fallback. Startup
// must refuse it rather than run with a guessable key.
const PlaceholderSecret = "dev-qr-secret-change-me"

const minSecretLen = 16

var (
	ErrMissingSecret  = errors.New("token: signing secret is not configured")
	ErrInsecureSecret = errors.New("token: signing secret is the development placeholder")
)

// Signer produces and verifies HMAC-SHA256 signatures over token
// payload bytes.
type Signer struct {
	secret []byte
}

// NewSigner validates the secret up front. An empty, short, or
// placeholder secret is a configuration error, not a warning.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if secret == PlaceholderSecret {
		return nil, ErrInsecureSecret
	}
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("token: signing secret must be at least %d bytes", minSecretLen)
	}
	return &Signer{secret: []byte(secret)}, nil
}

// Sign returns the hex-encoded HMAC-SHA256 of data.
func (s *Signer) Sign(data []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature over data and compares it to the
// provided hex signature in constant time.
func (s *Signer) Verify(data []byte, signature string) bool {
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(data)
	return hmac.Equal(mac.Sum(nil), sig)
}

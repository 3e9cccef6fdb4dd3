package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
)

const nonceBytes = 16

// IssuerConfig carries the knobs the issuer itself consumes. The
// spatial and rate-limit options live in the validator config; they
// only describe how the token will later be judged.
type IssuerConfig struct {
	ExpirationMinutes int
	AppBaseURL        string
}

// IssuedToken is everything a caller needs to render a QR code.
type IssuedToken struct {
	Token       string    `json:"qr_token"`
	Signature   string    `json:"signature"`
	ExpiresAt   time.Time `json:"expires_at"`
	DeepLinkURL string    `json:"deep_link_url"`
}

// Issuer builds, signs, and encodes check-in tokens. Issuance is pure
// computation: nothing is persisted and no I/O happens.
type Issuer struct {
	signer *Signer
	cfg    IssuerConfig
}

func NewIssuer(signer *Signer, cfg IssuerConfig) *Issuer {
	if cfg.ExpirationMinutes <= 0 {
		cfg.ExpirationMinutes = 60
	}
	return &Issuer{signer: signer, cfg: cfg}
}

// Issue creates a signed token for one scene/session pair.
func (i *Issuer) Issue(sceneID, sessionID uuid.UUID) (*IssuedToken, error) {
	nonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	now := time.Now()
	expiresAt := now.Add(time.Duration(i.cfg.ExpirationMinutes) * time.Minute)

	payload := Payload{
		SceneID:   sceneID.String(),
		SessionID: sessionID.String(),
		Timestamp: now.UnixMilli(),
		ExpiresAt: expiresAt.UnixMilli(),
		Nonce:     nonce,
	}

	seg, err := EncodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	sig := i.signer.Sign([]byte(seg))
	transport := JoinTransport(seg, sig)

	return &IssuedToken{
		Token:       transport,
		Signature:   sig,
		ExpiresAt:   expiresAt,
		DeepLinkURL: i.cfg.AppBaseURL + "/scan?data=" + url.QueryEscape(transport),
	}, nil
}

func generateNonce() (string, error) {
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

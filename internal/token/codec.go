package token

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrMalformedTransport = errors.New("token: transport string must have exactly two dot-separated segments")
	ErrMalformedPayload   = errors.New("token: payload did not decode")
)

// Payload is the signed content of a check-in token. Timestamps are
// Unix milliseconds. The token is stateless: validity is a pure
// function of the current clock and the signature.
type Payload struct {
	SceneID   string `json:"scene_id"`
	SessionID string `json:"session_id"`
	Timestamp int64  `json:"timestamp"`
	ExpiresAt int64  `json:"expires_at"`
	Nonce     string `json:"nonce"`
}

// EncodePayload serializes a payload to its base64url transport segment.
func EncodePayload(p Payload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodePayload reverses EncodePayload.
func DecodePayload(seg string) (*Payload, error) {
	b, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return nil, ErrMalformedPayload
	}
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, ErrMalformedPayload
	}
	if p.SceneID == "" || p.SessionID == "" {
		return nil, ErrMalformedPayload
	}
	return &p, nil
}

// SplitTransport splits "<payload>.<signature>" and rejects anything
// that is not exactly two segments, before any cryptographic work.
func SplitTransport(transport string) (payloadSeg, signature string, err error) {
	parts := strings.Split(transport, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", ErrMalformedTransport
	}
	return parts[0], parts[1], nil
}

// JoinTransport assembles the wire form of a signed payload segment.
func JoinTransport(payloadSeg, signature string) string {
	return payloadSeg + "." + signature
}

package token

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIssuer(t *testing.T, cfg IssuerConfig) *Issuer {
	t.Helper()
	s, err := NewSigner(testSecret)
	require.NoError(t, err)
	return NewIssuer(s, cfg)
}

func TestIssueProducesVerifiableToken(t *testing.T) {
	iss := newTestIssuer(t, IssuerConfig{AppBaseURL: "https://app.example.com"})
	sceneID, sessionID := uuid.New(), uuid.New()

	issued, err := iss.Issue(sceneID, sessionID)
	require.NoError(t, err)

	seg, sig, err := SplitTransport(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, issued.Signature, sig)

	s, err := NewSigner(testSecret)
	require.NoError(t, err)
	assert.True(t, s.Verify([]byte(seg), sig))

	payload, err := DecodePayload(seg)
	require.NoError(t, err)
	assert.Equal(t, sceneID.String(), payload.SceneID)
	assert.Equal(t, sessionID.String(), payload.SessionID)
	assert.Equal(t, payload.ExpiresAt, issued.ExpiresAt.UnixMilli())
}

func TestIssueDefaultExpiry(t *testing.T) {
	iss := newTestIssuer(t, IssuerConfig{})

	before := time.Now()
	issued, err := iss.Issue(uuid.New(), uuid.New())
	require.NoError(t, err)

	want := before.Add(60 * time.Minute)
	assert.WithinDuration(t, want, issued.ExpiresAt, 5*time.Second)
}

func TestIssueCustomExpiry(t *testing.T) {
	iss := newTestIssuer(t, IssuerConfig{ExpirationMinutes: 5})

	issued, err := iss.Issue(uuid.New(), uuid.New())
	require.NoError(t, err)

	assert.WithinDuration(t, time.Now().Add(5*time.Minute), issued.ExpiresAt, 5*time.Second)
}

func TestIssueDeepLink(t *testing.T) {
	iss := newTestIssuer(t, IssuerConfig{AppBaseURL: "https://app.example.com"})

	issued, err := iss.Issue(uuid.New(), uuid.New())
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(issued.DeepLinkURL, "https://app.example.com/scan?data="))

	u, err := url.Parse(issued.DeepLinkURL)
	require.NoError(t, err)
	assert.Equal(t, issued.Token, u.Query().Get("data"))
}

func TestIssueNoncesAreUnique(t *testing.T) {
	iss := newTestIssuer(t, IssuerConfig{})
	sceneID, sessionID := uuid.New(), uuid.New()

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		issued, err := iss.Issue(sceneID, sessionID)
		require.NoError(t, err)

		seg, _, err := SplitTransport(issued.Token)
		require.NoError(t, err)
		payload, err := DecodePayload(seg)
		require.NoError(t, err)

		_, dup := seen[payload.Nonce]
		assert.False(t, dup, "nonce reuse at iteration %d", i)
		seen[payload.Nonce] = struct{}{}
	}
}

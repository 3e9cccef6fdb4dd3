package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPepper = []byte("unit-test-pepper-0123456789")

func fingerprintFor(t *testing.T, cfg DeviceFPConfig, build func(*http.Request)) *DeviceFingerprint {
	t.Helper()

	var captured *DeviceFingerprint
	h := DeviceFingerprintMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scan", nil)
	req.RemoteAddr = "203.0.113.7:51000"
	if build != nil {
		build(req)
	}
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, captured)
	return captured
}

func TestFingerprintFromInstanceID(t *testing.T) {
	cfg := DeviceFPConfig{ServerPepper: testPepper, EnableIPBucketing: true}

	fp1 := fingerprintFor(t, cfg, func(r *http.Request) {
		r.Header.Set(headerDeviceInstanceID, "device-abc")
		r.Header.Set(headerPlatform, "ios")
	})
	fp2 := fingerprintFor(t, cfg, func(r *http.Request) {
		r.Header.Set(headerDeviceInstanceID, "device-abc")
		r.Header.Set(headerPlatform, "ios")
	})

	assert.Equal(t, fp1.DeviceKey, fp2.DeviceKey, "same instance id yields stable key")
	assert.NotContains(t, fp1.DeviceKey, "device-abc", "raw id never appears")
	assert.Equal(t, "ios", fp1.Platform)
	assert.Equal(t, "v4:203.0.113.0/24", fp1.IPBucket)
}

func TestFingerprintDistinctDevices(t *testing.T) {
	cfg := DeviceFPConfig{ServerPepper: testPepper}

	fp1 := fingerprintFor(t, cfg, func(r *http.Request) {
		r.Header.Set(headerDeviceInstanceID, "device-a")
	})
	fp2 := fingerprintFor(t, cfg, func(r *http.Request) {
		r.Header.Set(headerDeviceInstanceID, "device-b")
	})
	assert.NotEqual(t, fp1.DeviceKey, fp2.DeviceKey)
}

func TestFingerprintCompositeFallback(t *testing.T) {
	cfg := DeviceFPConfig{ServerPepper: testPepper, EnableIPBucketing: true}

	fp := fingerprintFor(t, cfg, func(r *http.Request) {
		r.Header.Set("User-Agent", "TrailQuest/2.1 (iPhone)")
		r.Header.Set(headerPlatform, "weird")
	})
	assert.NotEmpty(t, fp.DeviceKey)
	assert.Equal(t, "unknown", fp.Platform)
}

func TestFingerprintUntrustedProxyHeaderIgnored(t *testing.T) {
	cfg := DeviceFPConfig{
		ServerPepper:          testPepper,
		EnableIPBucketing:     true,
		TrustedProxyIPHeaders: []string{"X-Forwarded-For"},
		TrustedProxyCIDRs:     []string{"10.0.0.0/8"},
	}

	// Peer is not in the trusted range, so the header must be ignored.
	fp := fingerprintFor(t, cfg, func(r *http.Request) {
		r.Header.Set("X-Forwarded-For", "198.51.100.1")
	})
	assert.Equal(t, "203.0.113.7", fp.IPAddress)
}

func TestFingerprintTrustedProxyHeaderUsed(t *testing.T) {
	cfg := DeviceFPConfig{
		ServerPepper:          testPepper,
		EnableIPBucketing:     true,
		TrustedProxyIPHeaders: []string{"X-Forwarded-For"},
		TrustedProxyCIDRs:     []string{"10.0.0.0/8"},
	}

	var captured *DeviceFingerprint
	h := DeviceFingerprintMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = FromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/scan", nil)
	req.RemoteAddr = "10.1.2.3:9000"
	req.Header.Set("X-Forwarded-For", "198.51.100.1, 10.1.2.3")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, captured)
	assert.Equal(t, "198.51.100.1", captured.IPAddress)
}

func TestFingerprintConfigRejectsShortPepper(t *testing.T) {
	cfg := DeviceFPConfig{ServerPepper: []byte("short")}
	assert.Error(t, cfg.Validate())
}

func TestDeriveIPBucketV6(t *testing.T) {
	fp := fingerprintFor(t, DeviceFPConfig{ServerPepper: testPepper, EnableIPBucketing: true}, func(r *http.Request) {
		r.RemoteAddr = "[2001:db8:1:2:3:4:5:6]:443"
	})
	assert.Equal(t, "v6:2001:db8:1:2::/64", fp.IPBucket)
}

func TestSanitizeHeaderStripsControlChars(t *testing.T) {
	assert.Equal(t, "abc", sanitizeHeader("a\x00b\nc", 0))
	assert.Equal(t, "ab", sanitizeHeader("abcdef", 2))
}

package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	appcfg "github.com/trailquest/checkin-service/internal/config"
)

type ctxKey int

const ctxDeviceFingerprintKey ctxKey = iota + 1

const (
	headerDeviceInstanceID = "X-Device-Instance-Id"
	headerPlatform         = "X-Platform" // ios|android|web
)

type DeviceFPConfig struct {
	TrustedProxyIPHeaders []string
	TrustedProxyCIDRs     []string
	EnableIPBucketing     bool
	ServerPepper          []byte
}

// DeviceFingerprint is privacy-preserving and safe to pass in context
// and logs. Raw header values never leave the middleware.
type DeviceFingerprint struct {
	DeviceKey  string
	IPBucket   string
	IPAddress  string
	Platform   string
	ObservedAt time.Time
}

func FromContext(ctx context.Context) (*DeviceFingerprint, bool) {
	v := ctx.Value(ctxDeviceFingerprintKey)
	if v == nil {
		return nil, false
	}
	fp, ok := v.(*DeviceFingerprint)
	return fp, ok
}

func (cfg *DeviceFPConfig) Validate() error {
	if len(cfg.ServerPepper) < 16 {
		return errors.New("pepper must be at least 16 bytes")
	}
	for _, c := range cfg.TrustedProxyCIDRs {
		if _, _, err := net.ParseCIDR(strings.TrimSpace(c)); err != nil {
			return fmt.Errorf("invalid CIDR: %s", c)
		}
	}
	return nil
}

// DeviceFingerprintMiddleware derives a peppered device key and IP
// bucket per request and attaches them to the context. No I/O.
func DeviceFingerprintMiddleware(cfg DeviceFPConfig) func(next http.Handler) http.Handler {
	// Validate early to fail fast at startup.
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	proxyNets := mustParseCIDRs(cfg.TrustedProxyCIDRs)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawInstanceID := sanitizeHeader(r.Header.Get(headerDeviceInstanceID), 512)
			platform := normalizePlatform(r.Header.Get(headerPlatform))
			ip := clientIP(r, cfg.TrustedProxyIPHeaders, proxyNets)

			var ipBucket string
			if cfg.EnableIPBucketing {
				ipBucket = deriveIPBucket(ip)
			}

			var deviceKey string
			if rawInstanceID != "" {
				deviceKey = scopedHash("dk:d:", rawInstanceID, cfg.ServerPepper)
			} else {
				ua := sanitizeHeader(r.UserAgent(), 1024)
				deviceKey = scopedHash("dk:c:", ua+"|"+ipBucket+"|"+platform, cfg.ServerPepper)
			}

			fp := &DeviceFingerprint{
				DeviceKey:  deviceKey,
				IPBucket:   ipBucket,
				IPAddress:  ip.String(),
				Platform:   platform,
				ObservedAt: time.Now().UTC(),
			}

			ctx := context.WithValue(r.Context(), ctxDeviceFingerprintKey, fp)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BuildFingerprintConfigFromApp translates app config to middleware
// config, decoding the pepper from base64 or hex with a raw fallback.
func BuildFingerprintConfigFromApp(c appcfg.FingerprintConfig) (DeviceFPConfig, error) {
	var pepper []byte
	if s := strings.TrimSpace(c.ServerPepper); s != "" {
		if p, err := base64.StdEncoding.DecodeString(s); err == nil {
			pepper = p
		} else if p2, err2 := base64.RawStdEncoding.DecodeString(s); err2 == nil {
			pepper = p2
		} else {
			pepper = []byte(s)
		}
	}
	cfg := DeviceFPConfig{
		TrustedProxyIPHeaders: c.TrustedProxyIPHeaders,
		TrustedProxyCIDRs:     c.TrustedProxyCIDRs,
		EnableIPBucketing:     c.EnableIPBucketing,
		ServerPepper:          pepper,
	}
	if err := cfg.Validate(); err != nil {
		return DeviceFPConfig{}, err
	}
	return cfg, nil
}

// --- Helpers: hashing, sanitize ---

func scopedHash(scope string, data string, pepper []byte) string {
	h := sha256.New()
	h.Write([]byte(scope))
	if len(pepper) > 0 {
		if len(pepper) > 64 {
			pepper = pepper[:64]
		}
		h.Write(pepper)
	}
	h.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

func sanitizeHeader(v string, maxLen int) string {
	v = strings.TrimSpace(v)
	if maxLen > 0 && len(v) > maxLen {
		v = v[:maxLen]
	}
	// Keep printable ASCII 32..126, drop control chars
	return strings.Map(func(r rune) rune {
		if r >= 32 && r != 127 {
			return r
		}
		return -1
	}, v)
}

func normalizePlatform(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	switch p {
	case "ios", "android", "web":
		return p
	default:
		return "unknown"
	}
}

// --- IP resolution & bucketing ---

func clientIP(r *http.Request, hdrs []string, trusted []*net.IPNet) net.IP {
	remoteIP := remoteAddrIP(r.RemoteAddr)

	if len(hdrs) == 0 {
		return remoteIP
	}

	// Trust proxy headers only if the immediate peer is trusted
	if !ipInCIDRs(remoteIP, trusted) {
		return remoteIP
	}

	for _, h := range hdrs {
		v := strings.TrimSpace(r.Header.Get(h))
		if v == "" {
			continue
		}
		if strings.EqualFold(h, "X-Forwarded-For") {
			parts := strings.Split(v, ",")
			for i := range parts {
				if ip := net.ParseIP(strings.TrimSpace(parts[i])); ip != nil {
					return ip
				}
			}
		} else if ip := net.ParseIP(v); ip != nil {
			return ip
		}
	}
	return remoteIP
}

func remoteAddrIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		if ip := net.ParseIP(remoteAddr); ip != nil {
			return ip
		}
		return net.IPv4zero
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return net.IPv4zero
	}
	return ip
}

func ipInCIDRs(ip net.IP, nets []*net.IPNet) bool {
	if ip == nil || len(nets) == 0 {
		return false
	}
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func mustParseCIDRs(cidrs []string) []*net.IPNet {
	if len(cidrs) == 0 {
		return nil
	}
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(strings.TrimSpace(c))
		if err == nil && n != nil {
			out = append(out, n)
		}
	}
	return out
}

// deriveIPBucket returns a privacy-preserving network bucket:
// IPv4 /24, IPv6 /64.
func deriveIPBucket(ip net.IP) string {
	if ip == nil {
		return ""
	}
	if v4 := ip.To4(); v4 != nil {
		masked := v4.Mask(net.CIDRMask(24, 32))
		return "v4:" + masked.String() + "/24"
	}
	ip16 := ip.To16()
	if ip16 == nil {
		return ""
	}
	masked := ip16.Mask(net.CIDRMask(64, 128))
	return "v6:" + masked.String() + "/64"
}

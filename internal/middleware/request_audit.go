package middleware

import (
	"net/http"
	"time"

	"github.com/trailquest/checkin-service/internal/telemetry"
	"github.com/trailquest/checkin-service/internal/util/logger"
)

// Publisher is the minimal interface middlewares need.
type Publisher interface {
	Publish(any)
}

// RequestAuditMW logs every request with privacy-preserving device
// context and mirrors the event to the shipper when one is wired.
type RequestAuditMW struct {
	Shipper Publisher
}

func NewRequestAuditMW(shipper Publisher) *RequestAuditMW {
	return &RequestAuditMW{Shipper: shipper}
}

func (m *RequestAuditMW) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &wrapWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		ev := telemetry.RequestAuditEvent{
			Timestamp:  time.Now().UTC(),
			Method:     r.Method,
			Path:       r.URL.Path,
			Status:     ww.status,
			DurationMs: time.Since(start).Milliseconds(),
		}
		if fp, _ := FromContext(r.Context()); fp != nil {
			ev.DeviceKey = fp.DeviceKey
			ev.Platform = fp.Platform
			ev.IPBucket = fp.IPBucket
		}

		logger.Infof("request_audit method=%s path=%s status=%d latency_ms=%d device_key=%s",
			ev.Method, ev.Path, ev.Status, ev.DurationMs, ev.DeviceKey)

		if m.Shipper != nil {
			m.Shipper.Publish(ev)
		}
	})
}

type wrapWriter struct {
	http.ResponseWriter
	status int
}

func (w *wrapWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

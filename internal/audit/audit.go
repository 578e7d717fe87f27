// Package audit emits one record per handled API request onto the audit
// stream. Publication is asynchronous from the caller's point of view:
// a broker outage degrades to a logged failure, never a failed request.
package audit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"uniplex.org/internal/auth"
	"uniplex.org/internal/ids"
	"uniplex.org/internal/obs"
)

// RoutingKey labels audit records on the stream.
const RoutingKey = "audit.action"

// Record is the wire shape of one audited request.
type Record struct {
	Timestamp     time.Time `json:"timestamp"`
	Service       string    `json:"service"`
	UserID        string    `json:"userId"`
	UserName      string    `json:"userName,omitempty"`
	Method        string    `json:"method"`
	Path          string    `json:"path"`
	Query         string    `json:"query,omitempty"`
	StatusCode    int       `json:"statusCode"`
	DurationMs    int64     `json:"durationMs"`
	CorrelationID string    `json:"correlationId"`
	ClientIP      string    `json:"clientIp"`
}

// Publisher is the slice of the event bus the recorder needs.
type Publisher interface {
	Publish(ctx context.Context, stream, key string, payload any) (string, error)
}

// Recorder is HTTP middleware that audits every request except operational
// endpoints.
type Recorder struct {
	publisher Publisher
	stream    string
	service   string
	now       func() time.Time
}

// NewRecorder builds a recorder that publishes to stream under the given
// service name.
func NewRecorder(publisher Publisher, stream, service string) *Recorder {
	return &Recorder{
		publisher: publisher,
		stream:    stream,
		service:   service,
		now:       time.Now,
	}
}

var excludedPrefixes = []string{"/healthz", "/readyz", "/metrics", "/swagger", "/favicon"}

func excluded(path string) bool {
	for _, p := range excludedPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// identity is filled in by authentication middleware running below the
// recorder. Context values set downstream are invisible up here, so the
// recorder plants a mutable box and the authenticator writes into it.
type identity struct {
	userID   string
	userName string
}

type identityKey struct{}

// CaptureIdentity records the authenticated subject for the audit entry of
// the current request. A no-op when no recorder wraps the request.
func CaptureIdentity(ctx context.Context, userID, userName string) {
	if box, ok := ctx.Value(identityKey{}).(*identity); ok {
		box.userID = userID
		box.userName = userName
	}
}

// Wrap audits next. The record is built after the handler runs so it can
// carry the status code and the authenticated principal.
func (rec *Recorder) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if excluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		correlationID := r.Header.Get("X-Correlation-Id")
		if correlationID == "" {
			correlationID = ids.New()
		}
		w.Header().Set("X-Correlation-Id", correlationID)

		box := &identity{}
		r = r.WithContext(context.WithValue(r.Context(), identityKey{}, box))

		start := rec.now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		record := Record{
			Timestamp:     start.UTC(),
			Service:       rec.service,
			Method:        r.Method,
			Path:          r.URL.Path,
			Query:         r.URL.RawQuery,
			StatusCode:    sw.status,
			DurationMs:    rec.now().Sub(start).Milliseconds(),
			CorrelationID: correlationID,
			ClientIP:      clientIP(r),
		}
		if box.userID != "" {
			record.UserID = box.userID
			record.UserName = box.userName
		} else if p, ok := auth.PrincipalFromContext(r.Context()); ok {
			record.UserID = p.UserID
			record.UserName = p.Email
		}
		if record.UserID == "" {
			record.UserID = "anonymous"
		}
		// Detached from the request context so a client disconnect does
		// not lose the record.
		if _, err := rec.publisher.Publish(context.WithoutCancel(r.Context()), rec.stream, RoutingKey, record); err != nil {
			obs.AuditPublishFailures.Inc()
			obs.Log(map[string]any{
				"level":       "error",
				"msg":         "audit publish failed",
				"stream":      rec.stream,
				"correlation": correlationID,
				"error":       err.Error(),
			})
		}
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

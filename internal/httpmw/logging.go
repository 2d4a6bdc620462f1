package httpmw

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/tradedesk/internal/log"
)

const tracerName = "tradedesk/httpmw"

// StatusRecorder wraps http.ResponseWriter to capture the status and body
// size. Status is 0 until the handler writes.
type StatusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64

	// OnFirstWrite runs once, before the first WriteHeader or Write reaches
	// the underlying writer.
	OnFirstWrite func(status int)
	wrote        bool
}

func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w}
}

// Status returns the written status, 200 if only the body was written and 0
// if nothing was written yet.
func (rw *StatusRecorder) Status() int { return rw.status }

func (rw *StatusRecorder) BytesWritten() int64 { return rw.bytes }

func (rw *StatusRecorder) first(status int) {
	if rw.wrote {
		return
	}
	rw.wrote = true
	rw.status = status
	if rw.OnFirstWrite != nil {
		rw.OnFirstWrite(status)
	}
}

func (rw *StatusRecorder) WriteHeader(code int) {
	if rw.wrote {
		return
	}
	rw.first(code)
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *StatusRecorder) Write(b []byte) (int, error) {
	if !rw.wrote {
		rw.first(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)
	return n, err
}

func (rw *StatusRecorder) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *StatusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
	}
	return h.Hijack()
}

func (rw *StatusRecorder) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// WithLogger stores a request-scoped logger carrying request_id, client and
// method/path in the context. The query string is deliberately left out.
func WithLogger(base log.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			reqID := RequestIDFromContext(ctx)
			client := ClientIPFromContext(ctx)
			peer := r.RemoteAddr
			if host, _, err := net.SplitHostPort(peer); err == nil {
				peer = host
			}
			scheme := schemeFromRequest(r)

			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(
					attribute.String("request_id", reqID),
					attribute.String("client.address", client),
					attribute.String("network.peer.address", peer),
					attribute.String("url.scheme", scheme),
				)
			}

			L := base.With(
				"request_id", reqID,
				"client.address", client,
				"network.peer.address", peer,
				"http.request.method", r.Method,
				"url.path", r.URL.Path,
				"url.scheme", scheme,
			)
			next.ServeHTTP(w, r.WithContext(log.WithContext(ctx, L)))
		})
	}
}

// AccessLog writes one "http request" line per request after the handler
// returns, and a response.write child span covering time spent writing.
// Health probes are skipped.
func AccessLog() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := r.Context()

			var span trace.Span
			rw := NewStatusRecorder(w)
			rw.OnFirstWrite = func(int) {
				if trace.SpanFromContext(ctx).IsRecording() {
					_, span = otel.Tracer(tracerName).Start(ctx, "response.write",
						trace.WithAttributes(attribute.Float64("http.server.ttfb_seconds", time.Since(start).Seconds())))
				}
			}

			next.ServeHTTP(rw, r)

			status := rw.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if span != nil {
				span.SetAttributes(
					attribute.Int("http.response.status_code", status),
					attribute.Int64("http.response.body.size", rw.BytesWritten()),
				)
				if status >= 500 {
					span.SetStatus(codes.Error, http.StatusText(status))
				}
				span.End()
			}

			if r.URL.Path == "/-/ready" || r.URL.Path == "/-/healthy" {
				return
			}
			var reqBody int64
			if r.ContentLength > 0 {
				reqBody = r.ContentLength
			}
			log.FromContext(r.Context()).Info(ctx, "http request",
				"http.response.status_code", status,
				"http.server.request.duration", time.Since(start).Seconds(),
				"http.response.body.size", rw.BytesWritten(),
				"http.request.body.size", reqBody,
				"http.route", RoutePattern(r),
			)
		})
	}
}

// schemeFromRequest trusts X-Forwarded-Proto only because ClientIP strips
// it for untrusted peers.
func schemeFromRequest(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-Proto"); xf != "" {
		s := strings.ToLower(strings.TrimSpace(strings.Split(xf, ",")[0]))
		if s == "http" || s == "https" {
			return s
		}
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// Scope tags the request logger and span with the handler name.
func Scope(handler string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(attribute.String("app.handler", handler))
			}
			ctx = log.WithContext(ctx, log.FromContext(ctx).With("handler", handler))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

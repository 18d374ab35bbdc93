package logx

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// anonymizeIP zeroes the host part of an address: the last IPv4 octet, or the lower
// 64 bits of an IPv6 address.
func anonymizeIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}

	ip := net.ParseIP(addr)
	switch {
	case ip == nil:
		return "unknown_ip"
	case ip.IsLoopback():
		return "127.0.0.1"
	case ip.To4() != nil:
		return ip.To4().Mask(net.CIDRMask(24, 32)).String()
	default:
		return ip.Mask(net.CIDRMask(64, 128)).String()
	}
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// RequestLogger logs one line per request and stores a request-scoped logger in the context
// (see Ctx). Websocket requests are logged when the connection ends, with its lifetime as
// latency. Health checks log at debug level.
func RequestLogger() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			lc := Logger().With().
				Str("component", "http").
				Str("request_id", middleware.GetReqID(ctx)).
				Str("remote_ip", anonymizeIP(r.RemoteAddr)).
				Str("request_method", r.Method).
				Str("request_path", r.URL.Path)
			if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
				lc = lc.Str("trace_id", sc.TraceID().String())
			}
			logger := lc.Logger()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(logger.WithContext(ctx)))

			status := ww.Status()
			if status == 0 && isUpgrade(r) {
				status = http.StatusSwitchingProtocols
			}
			var ev *zerolog.Event
			switch {
			case status >= 500:
				ev = logger.Error()
			case status >= 400:
				ev = logger.Warn()
			case r.URL.Path == "/health":
				ev = logger.Debug()
			default:
				ev = logger.Info()
			}

			msg := "Request completed"
			if isUpgrade(r) {
				msg = "Websocket closed"
			}
			ev.Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("latency", time.Since(start)).
				Msg(msg)
		})
	}
}

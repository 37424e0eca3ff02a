package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/peerchat/internal/chatclient"
)

// Logger returns a request logging middleware using zerolog. Server errors
// are logged at error level, client errors at warn.
func Logger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				status := ww.Status()

				var evt *zerolog.Event
				switch {
				case status >= 500:
					evt = logger.Error()
				case status >= 400:
					evt = logger.Warn()
				default:
					evt = logger.Info()
				}

				evt.Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", status).
					Dur("latency", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("remote_addr", r.RemoteAddr).
					Str("app_id", r.Header.Get(chatclient.HeaderAppID)).
					Str("app_version", r.Header.Get(chatclient.HeaderAppVersion)).
					Msg("request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

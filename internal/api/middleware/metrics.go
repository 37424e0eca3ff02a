package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/eldtechnologies/peerchat/internal/metrics"
)

// Metrics returns middleware that records Prometheus metrics.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := normalizePath(r.URL.Path)

		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath collapses chat and peer names so metrics stay low-cardinality.
func normalizePath(path string) string {
	switch {
	case path == "/chat/register":
		return path
	case strings.HasPrefix(path, "/chat/rooms/") && strings.HasSuffix(path, "/messages"):
		return "/chat/rooms/:chatroom/messages"
	case strings.HasPrefix(path, "/chat/peers/"):
		return "/chat/peers/:name"
	case strings.HasPrefix(path, "/chat/") && !strings.Contains(path[len("/chat/"):], "/"):
		return "/chat/:name"
	}
	return path
}

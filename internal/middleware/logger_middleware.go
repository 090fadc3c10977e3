package middleware

import (
	"bufio"
	"context"
	"log"
	"net"
	"net/http"
	"strings"
	"time"
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// requestInfo is filled by inner middleware so the logger, which only
// sees the outer request, can report the authenticated user.
type requestInfo struct {
	userID string
}

const requestInfoKey contextKey = "requestInfo"

func setLoggedUser(r *http.Request, userID string) {
	if info, ok := r.Context().Value(requestInfoKey).(*requestInfo); ok {
		info.userID = userID
	}
}

// minStatus maps a log level to the lowest status code that is logged.
func minStatus(level string) int {
	switch strings.ToLower(level) {
	case "warn", "warning":
		return http.StatusBadRequest
	case "error":
		return http.StatusInternalServerError
	default:
		return 0
	}
}

func LoggerMiddleware(level string) func(http.Handler) http.Handler {
	threshold := minStatus(level)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			info := &requestInfo{}

			next.ServeHTTP(rw, r.WithContext(context.WithValue(r.Context(), requestInfoKey, info)))

			if rw.statusCode < threshold {
				return
			}

			userID := info.userID
			if userID == "" {
				userID = "anonymous"
			}

			log.Printf("[%s] %s %s - Status: %d - Duration: %v - User: %s",
				r.Method,
				r.URL.Path,
				r.RemoteAddr,
				rw.statusCode,
				time.Since(start),
				userID,
			)
		})
	}
}

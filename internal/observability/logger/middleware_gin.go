package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/skilder-ai/identity/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	HeaderRequestID = "X-Request-Id"

	maxRequestIDLength = 128
)

// MiddlewareConfig controls request logging.
type MiddlewareConfig struct {
	// ErrorClassifier maps the handler error onto (error_type, error_code).
	ErrorClassifier func(err error) (string, string)
	// QuietPaths are logged at debug level only.
	QuietPaths []string
	// Fields adds request-scoped fields after the handler ran.
	Fields func(c *gin.Context) []zap.Field
}

// GinMiddleware assigns a request id and writes one access log line per
// request. The Authorization header and query string are never logged.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	quiet := make(map[string]struct{}, len(cfg.QuietPaths))
	for _, path := range cfg.QuietPaths {
		quiet[path] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()

		requestID := requestIDFrom(c.GetHeader(HeaderRequestID))
		c.Header(HeaderRequestID, requestID)
		c.Request = c.Request.WithContext(obscontext.WithRequestID(c.Request.Context(), requestID))

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
			zap.String("client_ip", c.ClientIP()),
		}
		if cfg.Fields != nil {
			fields = append(fields, cfg.Fields(c)...)
		}
		if lastErr := c.Errors.Last(); lastErr != nil && cfg.ErrorClassifier != nil {
			errorType, errorCode := cfg.ErrorClassifier(lastErr.Err)
			fields = append(fields, zap.String("error_type", errorType), zap.String("error_code", errorCode))
		}

		level := zapcore.InfoLevel
		switch {
		case status >= http.StatusInternalServerError:
			level = zapcore.ErrorLevel
		case isQuiet(quiet, c.Request.URL.Path):
			level = zapcore.DebugLevel
		}
		FromContext(c.Request.Context()).Log(level, "http_request", fields...)
	}
}

// requestIDFrom keeps a caller supplied id when it is short and printable,
// otherwise it mints a fresh one.
func requestIDFrom(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxRequestIDLength {
		return uuid.NewString()
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] < 0x21 || raw[i] > 0x7e {
			return uuid.NewString()
		}
	}
	return raw
}

func isQuiet(quiet map[string]struct{}, path string) bool {
	_, ok := quiet[path]
	return ok
}

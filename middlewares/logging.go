package middlewares

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

var requestLogger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "http").Logger()

// maxBodyCapture bounds how much of a request body ends up in the log.
const maxBodyCapture = 4096

const truncationMarker = "...(truncated)"

var sensitiveHeaders = []string{"authorization", "cookie", "proxy-authorization"}

var sensitiveFields = []string{"password", "token", "secret", "apikey"}

// RequestLogger emits one structured line per request with redacted headers
// and a masked, size-bounded body capture.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		var body []byte
		if c.Request.Body != nil && c.Request.Body != http.NoBody {
			body, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}

		c.Next()

		requestLogger.Info().
			Str("trace_id", RequestTraceID(c)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Interface("headers", redactHeaders(c.Request.Header)).
			Str("body", maskBody(body)).
			Msg("request")
	}
}

func redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if isSensitiveHeader(name) {
			out[name] = "[REDACTED]"
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

func isSensitiveHeader(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range sensitiveHeaders {
		if lower == s {
			return true
		}
	}
	// catches X-Api-Key, Api-Key, X-Gateway-Api-Key and friends
	return strings.Contains(lower, "api-key")
}

// maskBody replaces sensitive JSON field values and truncates oversized
// payloads. Best effort: non-JSON bodies are logged raw (truncated).
func maskBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var parsed any
	if err := json.Unmarshal(body, &parsed); err == nil {
		maskValue(parsed)
		if remarshalled, err := json.Marshal(parsed); err == nil {
			body = remarshalled
		}
	}

	if len(body) > maxBodyCapture {
		return string(body[:maxBodyCapture]) + truncationMarker
	}
	return string(body)
}

func maskValue(v any) {
	switch val := v.(type) {
	case map[string]any:
		for k, inner := range val {
			if isSensitiveField(k) {
				val[k] = "***"
				continue
			}
			maskValue(inner)
		}
	case []any:
		for _, inner := range val {
			maskValue(inner)
		}
	}
}

func isSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range sensitiveFields {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

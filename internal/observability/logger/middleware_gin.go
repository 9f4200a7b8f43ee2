package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/tenantbill/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	requestIDHeader = "X-Request-Id"
	requestIDKey    = "request_id"

	// WebhookEventIDKey is the gin context key webhook handlers set once the
	// delivery has been parsed.
	WebhookEventIDKey = "webhook_event_id"
)

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug bool
	// ErrorClassifier maps the last handler error to a (type, code) pair.
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware assigns a request id and writes one "http_request" entry per
// request once the handler chain returned.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := resolveRequestID(c)
		c.Set(requestIDKey, requestID)
		c.Header(requestIDHeader, requestID)
		c.Request = c.Request.WithContext(obscontext.WithRequestID(c.Request.Context(), requestID))

		c.Next()

		entry := requestEntry{
			route:  c.FullPath(),
			status: c.Writer.Status(),
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", entry.routeOrUnmatched()),
			zap.Int("status", entry.status),
			zap.Duration("duration", time.Since(start)),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		if provider := c.Param("provider"); provider != "" {
			fields = append(fields, zap.String("provider", provider))
		}
		if eventID := c.GetString(WebhookEventIDKey); eventID != "" {
			fields = append(fields, zap.String(WebhookEventIDKey, eventID))
		}
		if last := c.Errors.Last(); last != nil {
			if cfg.ErrorClassifier != nil {
				entry.errorType, entry.errorCode = cfg.ErrorClassifier(last.Err)
			}
			fields = append(fields, zap.String("error_type", entry.errorType), zap.String("error_code", entry.errorCode))
			if cfg.Debug {
				fields = append(fields, zap.Error(last.Err))
			}
		}

		log := FromContext(c.Request.Context())
		if ce := log.Check(entry.level(), "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

func resolveRequestID(c *gin.Context) string {
	// header lookup is canonicalized, so X-Request-ID matches too
	if id := strings.TrimSpace(c.GetHeader(requestIDHeader)); id != "" {
		return id
	}
	if id := strings.TrimSpace(c.GetString(requestIDKey)); id != "" {
		return id
	}
	return uuid.NewString()
}

type requestEntry struct {
	route     string
	status    int
	errorType string
	errorCode string
}

func (e requestEntry) routeOrUnmatched() string {
	if e.route == "" {
		return "unmatched"
	}
	return e.route
}

// level keeps scrape and health traffic out of info logs. Rejected webhook
// deliveries are warnings since the sender retries them.
func (e requestEntry) level() zapcore.Level {
	switch {
	case e.route == "/metrics" || e.route == "/health":
		return zapcore.DebugLevel
	case e.status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case strings.HasPrefix(e.route, "/webhooks/") && e.status >= http.StatusBadRequest:
		if e.errorType == "validation_error" {
			return zapcore.DebugLevel
		}
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

package middleware

import (
	"github.com/gin-gonic/gin"

	"kolinsights/pkg/ctxkeys"
	"kolinsights/pkg/logging"
)

// SetupCommonMiddleware installs request ids first so every later layer,
// including panic recovery, can log them.
func SetupCommonMiddleware(r *gin.Engine, logger logging.Logger) {
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware(logger))
	r.Use(RecoveryMiddleware(logger))
	r.Use(CORSMiddleware())
}

// GetRequestID reads the id set by RequestIDMiddleware, falling back to the
// request context.
func GetRequestID(c *gin.Context) string {
	if id := c.GetString("request_id"); id != "" {
		return id
	}
	if c.Request != nil {
		return ctxkeys.GetRequestID(c.Request.Context())
	}
	return ""
}

// GetTenantID returns the tenant a handler resolved for this request.
func GetTenantID(c *gin.Context) string {
	if id := c.GetString("tenant_id"); id != "" {
		return id
	}
	if c.Request != nil {
		return ctxkeys.GetTenantID(c.Request.Context())
	}
	return ""
}

// GetContextLogger returns logger scoped to the request. Empty ids are left
// out.
func GetContextLogger(c *gin.Context, logger logging.Logger) logging.Entry {
	fields := logging.Fields{
		"method": c.Request.Method,
		"path":   c.Request.URL.Path,
	}
	if id := GetRequestID(c); id != "" {
		fields["request_id"] = id
	}
	if tenant := GetTenantID(c); tenant != "" {
		fields["tenant_id"] = tenant
	}
	return logger.WithFields(fields)
}

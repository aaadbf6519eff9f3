package middleware

import (
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/logging"
)

// GetRequestID reports the request ID stamped by RequestIDMiddleware, or
// an empty string when the middleware did not run.
func GetRequestID(c Context) string {
	if id, exists := c.Get("request_id"); exists {
		if strID, ok := id.(string); ok {
			return strID
		}
	}
	return ""
}

// GetContextLogger binds the request's identity to a logger. Fields are
// copied out eagerly, so the entry stays safe to hold past the request.
func GetContextLogger(c Context, logger logging.Logger) logging.Entry {
	return logger.WithFields(logging.Fields{
		"request_id": GetRequestID(c),
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"client_ip":  c.ClientIP(),
	})
}

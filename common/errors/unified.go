package errors

import (
	"github.com/gin-gonic/gin"
)

// UnifiedErrorHandler converts errors raised by handlers into RFC 7807
// responses.
type UnifiedErrorHandler struct{}

// NewUnifiedErrorHandler creates a new unified error handler.
func NewUnifiedErrorHandler() *UnifiedErrorHandler {
	return &UnifiedErrorHandler{}
}

// HandleError processes any error type and writes an RFC 7807 response.
func (h *UnifiedErrorHandler) HandleError(c *gin.Context, err error) {
	instance := c.Request.URL.Path
	var problemDetails *ProblemDetails

	switch e := err.(type) {
	case *ProblemDetails:
		problemDetails = e
	default:
		problemDetails = NewInternalError(err.Error(), instance)
	}

	if traceID := h.getTraceID(c); traceID != "" {
		problemDetails.WithTraceID(traceID)
	}

	c.Header("Content-Type", "application/problem+json")
	c.JSON(problemDetails.Status, problemDetails)
}

// Middleware creates a gin middleware that renders collected errors.
func (h *UnifiedErrorHandler) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last()
			h.HandleError(c, err.Err)
			c.Abort()
		}
	}
}

func (h *UnifiedErrorHandler) getTraceID(c *gin.Context) string {
	if traceID, exists := c.Get("trace_id"); exists {
		if id, ok := traceID.(string); ok {
			return id
		}
	}
	return c.GetHeader("X-Request-ID")
}

// DefaultHandler is the package-level unified error handler.
var DefaultHandler = NewUnifiedErrorHandler()

// HandleError processes any error using the default handler.
func HandleError(c *gin.Context, err error) {
	DefaultHandler.HandleError(c, err)
}

// UnifiedErrorMiddleware creates a middleware using the default handler.
func UnifiedErrorMiddleware() gin.HandlerFunc {
	return DefaultHandler.Middleware()
}

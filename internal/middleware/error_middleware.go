package middleware

import (
	"volleystat/internal/services"
	"volleystat/internal/transport/httpdto"
	"volleystat/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandler logs errors attached with c.Error. Handlers that already wrote
// a response keep it; otherwise the error is rendered in the envelope.
func ErrorHandler(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		if l != nil {
			status := services.HTTPStatus(err)
			if status >= 500 {
				l.ErrorCtx(c.Request.Context(), "request error", zap.Int("status", status), zap.Error(err))
			} else {
				l.InfoCtx(c.Request.Context(), "request rejected", zap.Int("status", status), zap.Error(err))
			}
		}
		if c.Writer.Written() {
			return
		}
		c.JSON(services.HTTPStatus(err), httpdto.NewErrorResponse(services.ErrorMessage(err), services.ErrorCode(err)))
	}
}

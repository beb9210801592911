package middleware

import (
	"context"
	"net/http"
	"strings"

	"volleystat/internal/services"
	"volleystat/internal/transport/httpdto"
	"volleystat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TokenParser validates an access token. *services.AuthService implements it.
type TokenParser interface {
	ParseAccessToken(ctx context.Context, token string) (services.AccessClaims, error)
}

func AuthMiddleware(parser TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c)
		claims, err := parser.ParseAccessToken(c.Request.Context(), token)
		if err != nil {
			status := services.HTTPStatus(err)
			if status != http.StatusServiceUnavailable {
				status = http.StatusUnauthorized
			}
			c.JSON(status, httpdto.NewErrorResponse(http.StatusText(status), services.ErrorCode(err)))
			c.Abort()
			return
		}

		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
			c.Abort()
			return
		}

		ctx := services.WithUserContext(c.Request.Context(), userID, claims)
		ctx = context.WithValue(ctx, logger.UserIdKey, userID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func extractBearer(c *gin.Context) string {
	value := c.GetHeader("Authorization")
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

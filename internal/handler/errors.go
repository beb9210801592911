package handler

import (
	"net/http"

	"volleystat/internal/services"
	"volleystat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(services.HTTPStatus(err), httpdto.NewErrorResponse(services.ErrorMessage(err), services.ErrorCode(err)))
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse(msg, "INVALID_REQUEST"))
}

// currentUser writes a 401 and returns false when the auth middleware did
// not run.
func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return uuid.Nil, false
	}
	return userID, true
}

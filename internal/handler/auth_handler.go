// Package handler provides HTTP handlers for API endpoints.
package handler

import (
	"net/http"

	"volleystat/internal/services"
	"volleystat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

// AuthHandler handles authentication HTTP endpoints.
type AuthHandler struct {
	service *services.AuthService
}

// NewAuthHandler creates an auth handler.
func NewAuthHandler(service *services.AuthService) *AuthHandler {
	return &AuthHandler{service: service}
}

// SignUp handles user registration.
func (h *AuthHandler) SignUp(c *gin.Context) {
	var req httpdto.SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	info, err := h.service.SignUp(c.Request.Context(), services.SignUpInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(toAuthUser(info)))
}

// SignIn exchanges credentials for an access token.
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req httpdto.SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	res, err := h.service.SignIn(c.Request.Context(), services.SignInInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.AuthResponse{
		AccessToken: res.AccessToken,
		ExpiresIn:   res.ExpiresIn,
		User:        toAuthUser(res.User),
	}))
}

// SignOut revokes the token the request was made with.
func (h *AuthHandler) SignOut(c *gin.Context) {
	claims, ok := services.ClaimsFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	if err := h.service.SignOut(c.Request.Context(), claims); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, httpdto.NewSuccessResponse[any](nil))
}

func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	info, err := h.service.Me(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(toAuthUser(info)))
}

func toAuthUser(u services.UserInfo) httpdto.AuthUserDTO {
	return httpdto.AuthUserDTO{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName}
}

package handler

import (
	"net/http"

	"volleystat/internal/services"
	"volleystat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

type VideoHandler struct {
	service *services.VideoService
}

func NewVideoHandler(service *services.VideoService) *VideoHandler {
	return &VideoHandler{service: service}
}

// Create makes a video record and returns the credential a browser uses to
// upload to it directly.
func (h *VideoHandler) Create(c *gin.Context) {
	var req httpdto.CreateVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "title is required")
		return
	}

	target, err := h.service.CreateUpload(c.Request.Context(), req.Title)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(target))
}

func (h *VideoHandler) List(c *gin.Context) {
	var req httpdto.ListVideosRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid paging parameters")
		return
	}

	res, err := h.service.List(c.Request.Context(), req.Page, req.ItemsPerPage)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(res))
}

func (h *VideoHandler) Get(c *gin.Context) {
	v, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(v))
}

func (h *VideoHandler) Delete(c *gin.Context) {
	var req httpdto.DeleteVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "videoId is required")
		return
	}

	if err := h.service.Delete(c.Request.Context(), req.VideoID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.OKResponse{OK: true}))
}

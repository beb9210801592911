package handler

import (
	"context"
	"net/http"
	"strings"

	"volleystat/internal/services"
	"volleystat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// UploadHandler drives server side upload jobs.
type UploadHandler struct {
	service *services.UploadJobService
}

func NewUploadHandler(service *services.UploadJobService) *UploadHandler {
	return &UploadHandler{service: service}
}

// Staging presigns a PUT into the staging bucket.
func (h *UploadHandler) Staging(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req httpdto.StagingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	target, err := h.service.PresignStaging(c.Request.Context(), userID, req.FileName, req.ContentType, req.FileSize)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(target))
}

// Start accepts either a multipart "file" field or a JSON body naming a
// staged object.
func (h *UploadHandler) Start(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		h.startMultipart(c, userID)
		return
	}

	var req httpdto.StartUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "no file selected")
		return
	}
	view, err := h.service.StartFromObject(c.Request.Context(), userID, req.Key, req.FileName)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, httpdto.NewSuccessResponse(view))
}

func (h *UploadHandler) startMultipart(c *gin.Context, userID uuid.UUID) {
	header, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "no file selected")
		return
	}
	f, err := header.Open()
	if err != nil {
		writeError(c, err)
		return
	}
	defer f.Close()

	view, err := h.service.StartFromReader(c.Request.Context(), userID, header.Filename, header.Header.Get("Content-Type"), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, httpdto.NewSuccessResponse(view))
}

func (h *UploadHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req httpdto.ListUploadsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid limit")
		return
	}

	jobs, err := h.service.List(c.Request.Context(), userID, req.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(jobs))
}

func (h *UploadHandler) Get(c *gin.Context) {
	h.withJob(c, h.service.Get)
}

func (h *UploadHandler) Pause(c *gin.Context) {
	h.withJob(c, h.service.Pause)
}

func (h *UploadHandler) Resume(c *gin.Context) {
	h.withJob(c, h.service.Resume)
}

func (h *UploadHandler) Cancel(c *gin.Context) {
	h.withJob(c, h.service.Cancel)
}

type jobOp func(ctx context.Context, userID, jobID uuid.UUID) (services.JobView, error)

func (h *UploadHandler) withJob(c *gin.Context, op jobOp) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid upload id")
		return
	}

	view, err := op(c.Request.Context(), userID, jobID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(view))
}

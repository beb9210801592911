package httpdto

// StagingRequest is used for POST /v1/uploads/staging
type StagingRequest struct {
	FileName    string `json:"fileName" binding:"required"`
	ContentType string `json:"contentType,omitempty"`
	FileSize    int64  `json:"fileSize" binding:"required"`
}

// StartUploadRequest starts a job from a staged object. Multipart requests
// carry the file in the "file" form field instead.
type StartUploadRequest struct {
	Key      string `json:"key" binding:"required"`
	FileName string `json:"fileName,omitempty"`
}

// ListUploadsRequest holds query parameters for GET /v1/uploads
type ListUploadsRequest struct {
	Limit int `form:"limit"`
}

package httpdto

// CreateVideoRequest is used for POST /v1/videos
type CreateVideoRequest struct {
	Title string `json:"title" binding:"required"`
}

// ListVideosRequest holds query parameters for GET /v1/videos
type ListVideosRequest struct {
	Page         int `form:"page"`
	ItemsPerPage int `form:"itemsPerPage"`
}

// DeleteVideoRequest is used for POST /v1/videos/delete
type DeleteVideoRequest struct {
	VideoID string `json:"videoId" binding:"required"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

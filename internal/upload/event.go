package upload

import "time"

type EventType string

const (
	EventState    EventType = "upload.state"
	EventProgress EventType = "upload.progress"
	EventRefresh  EventType = "upload.refresh"
)

// Event is what listeners see. For EventRefresh, Error is set when the
// listing could not be reloaded; the upload state is unaffected. A failed
// state event with Restartable set can be continued with Restart.
type Event struct {
	Type        EventType `json:"type"`
	UploadID    string    `json:"uploadId"`
	VideoID     string    `json:"videoId,omitempty"`
	State       State     `json:"state"`
	Transferred int64     `json:"transferred"`
	Total       int64     `json:"total"`
	Percent     float64   `json:"percent"`
	Error       string    `json:"error,omitempty"`
	Restartable bool      `json:"restartable,omitempty"`
	Time        time.Time `json:"time"`
}

type Snapshot struct {
	ID          string    `json:"id"`
	VideoID     string    `json:"videoId,omitempty"`
	FileName    string    `json:"fileName,omitempty"`
	State       State     `json:"state"`
	Transferred int64     `json:"transferred"`
	Total       int64     `json:"total"`
	Percent     float64   `json:"percent"`
	Error       string    `json:"error,omitempty"`
	Restartable bool      `json:"restartable,omitempty"`
	UploadURL   string    `json:"uploadUrl,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

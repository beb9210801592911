package job

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const (
	SourceMultipart = "multipart"
	SourceS3        = "s3"
	SourceLocal     = "local"
)

// UploadJob represents the upload_jobs table. Live state is held by the
// running orchestrator; this row is the durable record of it.
type UploadJob struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	UploaderID    uuid.UUID      `gorm:"type:uuid;not null;index"`
	VideoID       sql.NullString `gorm:"index"`
	Filename      string         `gorm:"not null"`
	MimeType      string         `gorm:"not null"`
	SizeBytes     int64          `gorm:"not null"`
	ChunkSize     int64          `gorm:"not null"`
	UploadedBytes int64          `gorm:"default:0"`
	Status        string         `gorm:"type:upload_status;default:'not_started'"`
	Source        string         `gorm:"not null"`
	ObjectKey     sql.NullString `gorm:"size:1024"`
	Error         sql.NullString `gorm:"type:text"`
	CreatedAt     time.Time      `gorm:"default:now()"`
	UpdatedAt     time.Time      `gorm:"default:now()"`
	CompletedAt   sql.NullTime   `gorm:"index"`
}

func (UploadJob) TableName() string {
	return "upload_jobs"
}

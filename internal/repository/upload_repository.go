package repository

import (
	"context"
	"time"

	"volleystat/internal/domain/job"
	volley_errors "volleystat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var activeStatuses = []string{"not_started", "requesting_credential", "transferring", "paused"}

type PostgresUploadJobRepository struct {
	db *gorm.DB
}

func NewUploadJobRepository(db *gorm.DB) UploadJobRepository {
	return &PostgresUploadJobRepository{db: db}
}

func (r *PostgresUploadJobRepository) Create(ctx context.Context, j *job.UploadJob) error {
	res := r.db.WithContext(ctx).Create(j)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return volley_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *PostgresUploadJobRepository) GetByID(ctx context.Context, id uuid.UUID) (job.UploadJob, error) {
	var j job.UploadJob
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&j).Error; err != nil {
		return job.UploadJob{}, notFound(err)
	}
	return j, nil
}

func (r *PostgresUploadJobRepository) ListByUploader(ctx context.Context, uploaderID uuid.UUID, limit int) ([]job.UploadJob, error) {
	if limit <= 0 {
		limit = 50
	}
	var jobs []job.UploadJob
	err := r.db.WithContext(ctx).
		Where("uploader_id = ?", uploaderID).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *PostgresUploadJobRepository) AttachVideo(ctx context.Context, id uuid.UUID, videoID string) error {
	return r.update(ctx, id, map[string]interface{}{"video_id": videoID})
}

func (r *PostgresUploadJobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, uploadedBytes int64, status string) error {
	return r.update(ctx, id, map[string]interface{}{
		"uploaded_bytes": uploadedBytes,
		"status":         status,
	})
}

func (r *PostgresUploadJobRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var j job.UploadJob
		if err := tx.Where("id = ?", id).First(&j).Error; err != nil {
			return notFound(err)
		}
		now := time.Now()
		return tx.Model(&job.UploadJob{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":         "succeeded",
				"uploaded_bytes": j.SizeBytes,
				"completed_at":   now,
				"updated_at":     now,
			}).Error
	})
}

func (r *PostgresUploadJobRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return r.update(ctx, id, map[string]interface{}{
		"status":       "failed",
		"error":        reason,
		"completed_at": time.Now(),
	})
}

// MarkRestarted reopens a failed job whose transfer was restarted.
func (r *PostgresUploadJobRepository) MarkRestarted(ctx context.Context, id uuid.UUID, uploadedBytes int64) error {
	return affected(r.db.WithContext(ctx).
		Model(&job.UploadJob{}).
		Where("id = ? AND status = ?", id, "failed").
		Updates(map[string]interface{}{
			"status":         "transferring",
			"uploaded_bytes": uploadedBytes,
			"error":          gorm.Expr("NULL"),
			"completed_at":   gorm.Expr("NULL"),
			"updated_at":     time.Now(),
		}))
}

func (r *PostgresUploadJobRepository) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	return r.update(ctx, id, map[string]interface{}{
		"status":       "cancelled",
		"completed_at": time.Now(),
	})
}

func (r *PostgresUploadJobRepository) MarkInterrupted(ctx context.Context) (int64, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&job.UploadJob{}).
		Where("status IN ?", activeStatuses).
		Updates(map[string]interface{}{
			"status":       "failed",
			"error":        "interrupted by server restart",
			"completed_at": now,
			"updated_at":   now,
		})
	return res.RowsAffected, res.Error
}

func (r *PostgresUploadJobRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Delete(&job.UploadJob{}, "completed_at IS NOT NULL AND completed_at < ?", cutoff)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *PostgresUploadJobRepository) update(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	return affected(r.db.WithContext(ctx).
		Model(&job.UploadJob{}).
		Where("id = ?", id).
		Updates(fields))
}

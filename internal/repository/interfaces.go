package repository

import (
	"context"
	"time"

	"volleystat/internal/domain/job"
	"volleystat/internal/domain/team"
	"volleystat/internal/domain/user"

	"github.com/google/uuid"
)

type UserRepository interface {
	Create(ctx context.Context, u *user.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
}

type TeamRepository interface {
	Create(ctx context.Context, t *team.Team, coachID uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (team.Team, error)
	ListUserTeams(ctx context.Context, userID uuid.UUID) ([]team.UserTeam, error)

	GetMembership(ctx context.Context, teamID, userID uuid.UUID) (team.Membership, error)
	ListMembers(ctx context.Context, teamID uuid.UUID) ([]team.Member, error)
	AddMember(ctx context.Context, m *team.Membership) error
	RemoveMember(ctx context.Context, teamID, userID uuid.UUID) error
}

type UploadJobRepository interface {
	Create(ctx context.Context, j *job.UploadJob) error
	GetByID(ctx context.Context, id uuid.UUID) (job.UploadJob, error)
	ListByUploader(ctx context.Context, uploaderID uuid.UUID, limit int) ([]job.UploadJob, error)

	AttachVideo(ctx context.Context, id uuid.UUID, videoID string) error
	UpdateProgress(ctx context.Context, id uuid.UUID, uploadedBytes int64, status string) error
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	MarkCancelled(ctx context.Context, id uuid.UUID) error
	MarkRestarted(ctx context.Context, id uuid.UUID, uploadedBytes int64) error

	// MarkInterrupted fails every job left active by a previous process.
	MarkInterrupted(ctx context.Context) (int64, error)
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

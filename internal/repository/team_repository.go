package repository

import (
	"context"

	"volleystat/internal/domain/team"
	volley_errors "volleystat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresTeamRepository struct {
	db *gorm.DB
}

func NewTeamRepository(db *gorm.DB) TeamRepository {
	return &PostgresTeamRepository{db: db}
}

// Create inserts the team and its coach membership in one transaction.
func (r *PostgresTeamRepository) Create(ctx context.Context, t *team.Team, coachID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(t).Error; err != nil {
			return err
		}
		return tx.Create(&team.Membership{
			TeamID: t.ID,
			UserID: coachID,
			Role:   team.RoleCoach,
		}).Error
	})
}

func (r *PostgresTeamRepository) GetByID(ctx context.Context, id uuid.UUID) (team.Team, error) {
	var t team.Team
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return team.Team{}, notFound(err)
	}
	return t, nil
}

func (r *PostgresTeamRepository) ListUserTeams(ctx context.Context, userID uuid.UUID) ([]team.UserTeam, error) {
	var teams []team.UserTeam
	err := r.db.WithContext(ctx).
		Table("teams").
		Select("teams.*, team_memberships.role AS role").
		Joins("JOIN team_memberships ON team_memberships.team_id = teams.id").
		Where("team_memberships.user_id = ?", userID).
		Order("teams.created_at DESC").
		Scan(&teams).Error
	if err != nil {
		return nil, err
	}
	return teams, nil
}

func (r *PostgresTeamRepository) GetMembership(ctx context.Context, teamID, userID uuid.UUID) (team.Membership, error) {
	var m team.Membership
	err := r.db.WithContext(ctx).
		Where("team_id = ? AND user_id = ?", teamID, userID).
		First(&m).Error
	if err != nil {
		return team.Membership{}, notFound(err)
	}
	return m, nil
}

func (r *PostgresTeamRepository) ListMembers(ctx context.Context, teamID uuid.UUID) ([]team.Member, error) {
	var members []team.Member
	err := r.db.WithContext(ctx).
		Table("team_memberships").
		Select("users.id AS user_id, users.email, users.display_name, team_memberships.role, team_memberships.created_at AS joined_at").
		Joins("JOIN users ON users.id = team_memberships.user_id").
		Where("team_memberships.team_id = ?", teamID).
		Order("team_memberships.created_at ASC").
		Scan(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (r *PostgresTeamRepository) AddMember(ctx context.Context, m *team.Membership) error {
	res := r.db.WithContext(ctx).Create(m)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return volley_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *PostgresTeamRepository) RemoveMember(ctx context.Context, teamID, userID uuid.UUID) error {
	return affected(r.db.WithContext(ctx).
		Delete(&team.Membership{}, "team_id = ? AND user_id = ?", teamID, userID))
}

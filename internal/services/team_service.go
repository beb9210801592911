package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"volleystat/internal/domain/team"
	"volleystat/internal/repository"
	volley_errors "volleystat/pkg/errors"

	"github.com/google/uuid"
)

type TeamService struct {
	teams repository.TeamRepository
	users repository.UserRepository
}

func NewTeamService(teams repository.TeamRepository, users repository.UserRepository) *TeamService {
	return &TeamService{teams: teams, users: users}
}

// CreateTeam makes the creator the team's coach.
func (s *TeamService) CreateTeam(ctx context.Context, creatorID uuid.UUID, name string) (team.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return team.Team{}, volley_errors.NewValidationError("name", "team name is required")
	}
	t := team.Team{
		ID:        uuid.New(),
		Name:      name,
		CreatedBy: creatorID,
		CreatedAt: time.Now(),
	}
	if err := s.teams.Create(ctx, &t, creatorID); err != nil {
		return team.Team{}, err
	}
	return t, nil
}

func (s *TeamService) ListUserTeams(ctx context.Context, userID uuid.UUID) ([]team.UserTeam, error) {
	teams, err := s.teams.ListUserTeams(ctx, userID)
	if err != nil {
		return nil, err
	}
	if teams == nil {
		teams = []team.UserTeam{}
	}
	return teams, nil
}

// ListMembers is visible to any member of the team.
func (s *TeamService) ListMembers(ctx context.Context, actorID, teamID uuid.UUID) ([]team.Member, error) {
	if _, err := s.membership(ctx, teamID, actorID); err != nil {
		return nil, err
	}
	members, err := s.teams.ListMembers(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if members == nil {
		members = []team.Member{}
	}
	return members, nil
}

// AddMember adds an existing user as a player. Only the coach may do it.
func (s *TeamService) AddMember(ctx context.Context, actorID, teamID uuid.UUID, email string) (team.Membership, error) {
	if err := s.requireCoach(ctx, teamID, actorID); err != nil {
		return team.Membership{}, err
	}
	target, err := s.userByEmail(ctx, email)
	if err != nil {
		return team.Membership{}, err
	}

	m := team.Membership{
		TeamID:    teamID,
		UserID:    target,
		Role:      team.RolePlayer,
		CreatedAt: time.Now(),
	}
	if err := s.teams.AddMember(ctx, &m); err != nil {
		return team.Membership{}, err
	}
	return m, nil
}

// RemoveMember removes a player. The coach cannot remove themselves.
func (s *TeamService) RemoveMember(ctx context.Context, actorID, teamID uuid.UUID, email string) error {
	if err := s.requireCoach(ctx, teamID, actorID); err != nil {
		return err
	}
	target, err := s.userByEmail(ctx, email)
	if err != nil {
		return err
	}
	if target == actorID {
		return volley_errors.NewValidationError("email", "a coach cannot leave their own team")
	}
	return s.teams.RemoveMember(ctx, teamID, target)
}

func (s *TeamService) membership(ctx context.Context, teamID, userID uuid.UUID) (team.Membership, error) {
	m, err := s.teams.GetMembership(ctx, teamID, userID)
	if err != nil {
		if errors.Is(err, volley_errors.ErrNotFound) {
			return team.Membership{}, volley_errors.ErrForbidden
		}
		return team.Membership{}, err
	}
	return m, nil
}

func (s *TeamService) requireCoach(ctx context.Context, teamID, userID uuid.UUID) error {
	m, err := s.membership(ctx, teamID, userID)
	if err != nil {
		return err
	}
	if m.Role != team.RoleCoach {
		return volley_errors.ErrForbidden
	}
	return nil
}

func (s *TeamService) userByEmail(ctx context.Context, email string) (uuid.UUID, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return uuid.Nil, volley_errors.NewValidationError("email", "email is required")
	}
	u, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return uuid.Nil, err
	}
	return u.ID, nil
}

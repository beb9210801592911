package services

import (
	"context"
	"sync"
	"testing"

	"volleystat/internal/domain/team"
	"volleystat/internal/domain/user"
	volley_errors "volleystat/pkg/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type membershipKey struct {
	team, user uuid.UUID
}

type memTeamRepo struct {
	mu      sync.Mutex
	teams   map[uuid.UUID]team.Team
	members map[membershipKey]team.Membership
}

func newMemTeamRepo() *memTeamRepo {
	return &memTeamRepo{
		teams:   map[uuid.UUID]team.Team{},
		members: map[membershipKey]team.Membership{},
	}
}

func (r *memTeamRepo) Create(_ context.Context, t *team.Team, coachID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teams[t.ID] = *t
	r.members[membershipKey{t.ID, coachID}] = team.Membership{TeamID: t.ID, UserID: coachID, Role: team.RoleCoach}
	return nil
}

func (r *memTeamRepo) GetByID(_ context.Context, id uuid.UUID) (team.Team, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.teams[id]
	if !ok {
		return team.Team{}, volley_errors.ErrNotFound
	}
	return t, nil
}

func (r *memTeamRepo) ListUserTeams(_ context.Context, userID uuid.UUID) ([]team.UserTeam, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []team.UserTeam
	for k, m := range r.members {
		if k.user == userID {
			out = append(out, team.UserTeam{Team: r.teams[k.team], Role: m.Role})
		}
	}
	return out, nil
}

func (r *memTeamRepo) GetMembership(_ context.Context, teamID, userID uuid.UUID) (team.Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[membershipKey{teamID, userID}]
	if !ok {
		return team.Membership{}, volley_errors.ErrNotFound
	}
	return m, nil
}

func (r *memTeamRepo) ListMembers(_ context.Context, teamID uuid.UUID) ([]team.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []team.Member
	for k, m := range r.members {
		if k.team == teamID {
			out = append(out, team.Member{UserID: k.user, Role: m.Role})
		}
	}
	return out, nil
}

func (r *memTeamRepo) AddMember(_ context.Context, m *team.Membership) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := membershipKey{m.TeamID, m.UserID}
	if _, ok := r.members[k]; ok {
		return volley_errors.ErrAlreadyExists
	}
	r.members[k] = *m
	return nil
}

func (r *memTeamRepo) RemoveMember(_ context.Context, teamID, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := membershipKey{teamID, userID}
	if _, ok := r.members[k]; !ok {
		return volley_errors.ErrNotFound
	}
	delete(r.members, k)
	return nil
}

type teamFixture struct {
	svc    *TeamService
	teams  *memTeamRepo
	coach  uuid.UUID
	player uuid.UUID
	team   team.Team
}

func newTeamFixture(t *testing.T) *teamFixture {
	t.Helper()
	users := newMemUserRepo()
	teams := newMemTeamRepo()
	f := &teamFixture{
		svc:    NewTeamService(teams, users),
		teams:  teams,
		coach:  uuid.New(),
		player: uuid.New(),
	}
	ctx := context.Background()
	require.NoError(t, users.Create(ctx, &user.User{ID: f.coach, Email: "coach@club.org"}))
	require.NoError(t, users.Create(ctx, &user.User{ID: f.player, Email: "setter@club.org"}))

	tm, err := f.svc.CreateTeam(ctx, f.coach, "  Varsity ")
	require.NoError(t, err)
	f.team = tm
	return f
}

func TestTeamService_CreateTeam(t *testing.T) {
	f := newTeamFixture(t)
	ctx := context.Background()

	assert.Equal(t, "Varsity", f.team.Name)
	assert.Equal(t, f.coach, f.team.CreatedBy)

	teams, err := f.svc.ListUserTeams(ctx, f.coach)
	require.NoError(t, err)
	require.Len(t, teams, 1)
	assert.Equal(t, team.RoleCoach, teams[0].Role)

	_, err = f.svc.CreateTeam(ctx, f.coach, "   ")
	assert.ErrorIs(t, err, volley_errors.ErrInvalidInput)

	none, err := f.svc.ListUserTeams(ctx, uuid.New())
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestTeamService_Membership(t *testing.T) {
	f := newTeamFixture(t)
	ctx := context.Background()

	t.Run("coach adds a player", func(t *testing.T) {
		m, err := f.svc.AddMember(ctx, f.coach, f.team.ID, "setter@club.org")
		require.NoError(t, err)
		assert.Equal(t, team.RolePlayer, m.Role)
		assert.Equal(t, f.player, m.UserID)

		_, err = f.svc.AddMember(ctx, f.coach, f.team.ID, "setter@club.org")
		assert.ErrorIs(t, err, volley_errors.ErrAlreadyExists)
	})

	t.Run("members can list", func(t *testing.T) {
		members, err := f.svc.ListMembers(ctx, f.player, f.team.ID)
		require.NoError(t, err)
		assert.Len(t, members, 2)

		_, err = f.svc.ListMembers(ctx, uuid.New(), f.team.ID)
		assert.ErrorIs(t, err, volley_errors.ErrForbidden)
	})

	t.Run("only the coach manages members", func(t *testing.T) {
		_, err := f.svc.AddMember(ctx, f.player, f.team.ID, "coach@club.org")
		assert.ErrorIs(t, err, volley_errors.ErrForbidden)

		err = f.svc.RemoveMember(ctx, f.player, f.team.ID, "setter@club.org")
		assert.ErrorIs(t, err, volley_errors.ErrForbidden)
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := f.svc.AddMember(ctx, f.coach, f.team.ID, "ghost@club.org")
		assert.ErrorIs(t, err, volley_errors.ErrNotFound)

		_, err = f.svc.AddMember(ctx, f.coach, f.team.ID, " ")
		assert.ErrorIs(t, err, volley_errors.ErrInvalidInput)
	})

	t.Run("coach cannot leave", func(t *testing.T) {
		err := f.svc.RemoveMember(ctx, f.coach, f.team.ID, "coach@club.org")
		assert.ErrorIs(t, err, volley_errors.ErrInvalidInput)
	})

	t.Run("coach removes a player", func(t *testing.T) {
		require.NoError(t, f.svc.RemoveMember(ctx, f.coach, f.team.ID, "setter@club.org"))
		_, err := f.teams.GetMembership(ctx, f.team.ID, f.player)
		assert.ErrorIs(t, err, volley_errors.ErrNotFound)
	})
}

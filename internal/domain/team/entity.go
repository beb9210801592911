package team

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleCoach  = "coach"
	RolePlayer = "player"
)

// Team represents the teams table
type Team struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	CreatedBy uuid.UUID `gorm:"type:uuid;not null;index" json:"createdBy"`
	CreatedAt time.Time `gorm:"default:now()" json:"createdAt"`
}

// Membership represents the team_memberships table
type Membership struct {
	TeamID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"teamId"`
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey;index" json:"userId"`
	Role      string    `gorm:"type:team_role;not null;default:'player'" json:"role"`
	CreatedAt time.Time `gorm:"default:now()" json:"createdAt"`
}

// Member is a membership joined with the member's user row.
type Member struct {
	UserID      uuid.UUID `json:"userId"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Role        string    `json:"role"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// UserTeam is a team as seen by one of its members.
type UserTeam struct {
	Team
	Role string `json:"role"`
}

func (Team) TableName() string {
	return "teams"
}

func (Membership) TableName() string {
	return "team_memberships"
}

package database

import (
	"errors"
	"fmt"
	"log"

	"volleystat/internal/domain/team"
	"volleystat/internal/domain/user"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SeedConfig holds configuration for seeding the database
type SeedConfig struct {
	CoachEmail    string
	CoachPassword string
	TeamName      string
	PlayerCount   int
}

// DefaultSeedConfig returns default seed configuration
func DefaultSeedConfig() *SeedConfig {
	return &SeedConfig{
		CoachEmail:    "coach@volleystat.dev",
		CoachPassword: "Coach@123!",
		TeamName:      "Varsity",
		PlayerCount:   6,
	}
}

// SeedResult holds the result of the seeding operation
type SeedResult struct {
	Coach   *user.User
	Players []*user.User
	Team    *team.Team
}

var testPlayers = []struct {
	email       string
	displayName string
}{
	{"alice@test.com", "Alice Johnson"},
	{"bea@test.com", "Bea Santos"},
	{"carla@test.com", "Carla Diaz"},
	{"dana@test.com", "Dana Kim"},
	{"erin@test.com", "Erin Walsh"},
	{"fay@test.com", "Fay Osei"},
	{"gina@test.com", "Gina Rossi"},
	{"hana@test.com", "Hana Sato"},
}

// Seed creates a coach, a team and its players. Existing rows are reused.
func Seed(cfg *SeedConfig) (*SeedResult, error) {
	if cfg == nil {
		cfg = DefaultSeedConfig()
	}
	log.Println("Starting database seeding...")

	result := &SeedResult{}
	err := DB.Transaction(func(tx *gorm.DB) error {
		coach, err := seedUser(tx, cfg.CoachEmail, "Head Coach", cfg.CoachPassword)
		if err != nil {
			return fmt.Errorf("failed to seed coach: %w", err)
		}
		result.Coach = coach

		t := &team.Team{Name: cfg.TeamName, CreatedBy: coach.ID}
		if err := tx.Where(team.Team{Name: cfg.TeamName, CreatedBy: coach.ID}).FirstOrCreate(t).Error; err != nil {
			return fmt.Errorf("failed to seed team: %w", err)
		}
		result.Team = t
		if err := seedMembership(tx, t.ID, coach.ID, team.RoleCoach); err != nil {
			return err
		}

		for i := 0; i < cfg.PlayerCount && i < len(testPlayers); i++ {
			p, err := seedUser(tx, testPlayers[i].email, testPlayers[i].displayName, "Test@123!")
			if err != nil {
				return fmt.Errorf("failed to seed player %s: %w", testPlayers[i].email, err)
			}
			if err := seedMembership(tx, t.ID, p.ID, team.RolePlayer); err != nil {
				return err
			}
			result.Players = append(result.Players, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Println("Database seeding completed successfully!")
	return result, nil
}

func seedUser(tx *gorm.DB, email, displayName, password string) (*user.User, error) {
	var existing user.User
	err := tx.Where("email = ?", email).First(&existing).Error
	if err == nil {
		log.Printf("User %s already exists, skipping", email)
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	u := &user.User{Email: email, DisplayName: displayName, PasswordHash: string(hashed)}
	if err := tx.Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}

func seedMembership(tx *gorm.DB, teamID, userID uuid.UUID, role string) error {
	m := team.Membership{TeamID: teamID, UserID: userID, Role: role}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error
}

// ClearAndReseed truncates every table and seeds again.
func ClearAndReseed(cfg *SeedConfig) (*SeedResult, error) {
	log.Println("Clearing all data...")
	if err := TruncateAllTables(); err != nil {
		return nil, fmt.Errorf("failed to truncate tables: %w", err)
	}
	return Seed(cfg)
}

// SeedDevelopment is a convenience function for development environment
func SeedDevelopment() (*SeedResult, error) {
	return Seed(DefaultSeedConfig())
}

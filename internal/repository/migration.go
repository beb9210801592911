package repository

import (
	"fmt"

	"volleystat/internal/domain/job"
	"volleystat/internal/domain/team"
	"volleystat/internal/domain/user"

	"gorm.io/gorm"
)

// InitSchema creates extensions and enums, then auto-migrates the tables.
func InitSchema(db *gorm.DB) error {
	// Creating extensions usually requires superuser privileges.
	extensions := []string{
		`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
		`CREATE EXTENSION IF NOT EXISTS "citext";`,
	}
	for _, ext := range extensions {
		if err := db.Exec(ext).Error; err != nil {
			return fmt.Errorf("failed to create extension: %w", err)
		}
	}

	enums := []string{
		`DO $$ BEGIN
			CREATE TYPE team_role AS ENUM ('coach', 'player');
		EXCEPTION
			WHEN duplicate_object THEN null;
		END $$;`,
		`DO $$ BEGIN
			CREATE TYPE upload_status AS ENUM ('not_started', 'requesting_credential', 'transferring', 'paused', 'cancelled', 'succeeded', 'failed');
		EXCEPTION
			WHEN duplicate_object THEN null;
		END $$;`,
	}
	for _, enum := range enums {
		if err := db.Exec(enum).Error; err != nil {
			return fmt.Errorf("failed to create enum: %w", err)
		}
	}

	if err := db.AutoMigrate(
		&user.User{},
		&team.Team{},
		&team.Membership{},
		&job.UploadJob{},
	); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}
	return nil
}

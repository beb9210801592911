package database

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"volleystat/config"
	"volleystat/internal/repository"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// AppTables lists the application tables, dependents first; truncate and
// drop walk it in this order.
var AppTables = []string{"upload_jobs", "team_memberships", "teams", "users"}

func DSN(cfg *config.Config) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode)
}

func Connect(cfg *config.Config) {
	level := logger.Warn
	if cfg.LogMode == "development" {
		level = logger.Info
	}

	var err error
	DB, err = gorm.Open(postgres.Open(DSN(cfg)), &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatalf("Failed to get generic database object: %v", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Println("Database connection established")
}

func Close() {
	if DB == nil {
		return
	}
	if sqlDB, err := DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func Ping() error {
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// HealthCheck reports pool exhaustion in addition to connectivity.
func HealthCheck() error {
	if err := Ping(); err != nil {
		return err
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	stats := sqlDB.Stats()
	if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
		return fmt.Errorf("connection pool exhausted (%d in use)", stats.InUse)
	}
	return nil
}

func TableExists(table string) (bool, error) {
	return DB.Migrator().HasTable(table), nil
}

func GetTableCount(table string) (int64, error) {
	var count int64
	err := DB.Table(table).Count(&count).Error
	return count, err
}

// RunFullMigration applies any raw .sql files in migrationsDir, then the
// schema owned by the repositories.
func RunFullMigration(migrationsDir string) error {
	if _, err := os.Stat(migrationsDir); err == nil {
		if err := ApplyRawMigrations(migrationsDir); err != nil {
			return err
		}
	} else {
		log.Printf("No migrations directory at %s, skipping raw SQL", migrationsDir)
	}
	return repository.InitSchema(DB)
}

// ApplyRawMigrations executes the .sql files in migrationsDir in name order.
func ApplyRawMigrations(migrationsDir string) error {
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}
	names := make([]string, 0, len(files))
	for _, file := range files {
		if filepath.Ext(file.Name()) == ".sql" {
			names = append(names, file.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := os.ReadFile(filepath.Join(migrationsDir, name))
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", name, err)
		}
		log.Printf("Applying migration: %s", name)
		if err := DB.Exec(string(content)).Error; err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", name, err)
		}
	}
	return nil
}

func TruncateAllTables() error {
	for _, table := range AppTables {
		if !DB.Migrator().HasTable(table) {
			continue
		}
		if err := DB.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)).Error; err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table, err)
		}
	}
	return nil
}

func DropAllTables() error {
	for _, table := range AppTables {
		if err := DB.Migrator().DropTable(table); err != nil {
			return fmt.Errorf("failed to drop %s: %w", table, err)
		}
	}
	return nil
}

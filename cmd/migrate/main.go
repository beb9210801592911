package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"volleystat/config"
	"volleystat/pkg/database"
)

const usage = `
volleystat - Database CLI Tool

Usage:
  migrate [flags] [command]

Commands:
  up          Create extensions, enums and tables
  down        Drop every application table (DANGEROUS)
  status      Show database connection status and table sizes
  seed        Seed a coach, a team and its players
  seed-dev    Seed with the default development data
  reset       Drop all tables and re-run migrations (DANGEROUS)
  truncate    Truncate all tables (DANGEROUS)

Flags:
  -migrations string    Path to raw SQL migrations (default "migrations")
  -coach-email string   Coach email for seeding (default "coach@volleystat.dev")
  -coach-pass string    Coach password for seeding (default "Coach@123!")
  -team string          Team name for seeding (default "Varsity")
  -players int          Number of players to seed (default 6)
  -yes                  Confirm destructive commands

Examples:
  go run ./cmd/migrate up
  go run ./cmd/migrate -coach-email me@club.org seed
  go run ./cmd/migrate -yes reset
`

func main() {
	migrationsDir := flag.String("migrations", "migrations", "Path to raw SQL migrations")
	seedDefaults := database.DefaultSeedConfig()
	coachEmail := flag.String("coach-email", seedDefaults.CoachEmail, "Coach email for seeding")
	coachPass := flag.String("coach-pass", seedDefaults.CoachPassword, "Coach password for seeding")
	teamName := flag.String("team", seedDefaults.TeamName, "Team name for seeding")
	players := flag.Int("players", seedDefaults.PlayerCount, "Number of players to seed")
	yes := flag.Bool("yes", false, "Confirm destructive commands")

	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	command := flag.Arg(0)

	cfg := config.LoadConfig()
	database.Connect(cfg)
	defer database.Close()

	switch command {
	case "up":
		runMigrationsUp(*migrationsDir)
	case "down":
		confirm(*yes, "down")
		runDrop()
	case "status":
		showStatus()
	case "seed":
		runSeed(&database.SeedConfig{
			CoachEmail:    *coachEmail,
			CoachPassword: *coachPass,
			TeamName:      *teamName,
			PlayerCount:   *players,
		})
	case "seed-dev":
		runSeed(database.DefaultSeedConfig())
	case "reset":
		confirm(*yes, "reset")
		runReset(*migrationsDir)
	case "truncate":
		confirm(*yes, "truncate")
		runTruncate()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

func confirm(yes bool, command string) {
	if !yes {
		log.Fatalf("❌ %s destroys data; pass -yes to confirm", command)
	}
}

func runMigrationsUp(migrationsDir string) {
	log.Println("🚀 Running migrations UP...")

	if err := database.RunFullMigration(migrationsDir); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}

	log.Println("✅ Migrations completed successfully!")
}

func runDrop() {
	log.Println("⬇️  Dropping all tables...")

	if err := database.DropAllTables(); err != nil {
		log.Fatalf("❌ Drop failed: %v", err)
	}

	log.Println("✅ Tables dropped")
}

func showStatus() {
	log.Println("🔍 Checking database status...")

	if err := database.Ping(); err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	log.Println("✅ Database connection: OK")

	for _, table := range database.AppTables {
		exists, err := database.TableExists(table)
		if err != nil {
			log.Printf("⚠️  Error checking table %s: %v", table, err)
			continue
		}
		if exists {
			count, _ := database.GetTableCount(table)
			log.Printf("✅ Table %-20s exists (%d rows)", table, count)
		} else {
			log.Printf("❌ Table %-20s does not exist", table)
		}
	}

	if err := database.HealthCheck(); err != nil {
		log.Printf("⚠️  Health check warning: %v", err)
	} else {
		log.Println("✅ Health check: PASSED")
	}
}

func runSeed(cfg *database.SeedConfig) {
	log.Println("🌱 Seeding database...")

	result, err := database.Seed(cfg)
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Println("📊 Seed Summary:")
	log.Printf("   - Coach: %s", result.Coach.Email)
	log.Printf("   - Team: %s (ID: %s)", result.Team.Name, result.Team.ID)
	log.Printf("   - Players: %d", len(result.Players))
	log.Println("✅ Seeding completed!")
}

func runReset(migrationsDir string) {
	log.Println("🗑️  Dropping all tables...")
	if err := database.DropAllTables(); err != nil {
		log.Fatalf("❌ Failed to drop tables: %v", err)
	}

	log.Println("🚀 Running migrations...")
	if err := database.RunFullMigration(migrationsDir); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}

	log.Println("✅ Database reset completed!")
}

func runTruncate() {
	log.Println("⚠️  Truncating all tables...")

	if err := database.TruncateAllTables(); err != nil {
		log.Fatalf("❌ Truncate failed: %v", err)
	}

	log.Println("✅ All tables truncated!")
}

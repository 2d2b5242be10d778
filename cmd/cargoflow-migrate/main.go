// Утилита миграций схемы базы данных платформы.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	dbURL := flag.String("database-url", os.Getenv("POSTGRES_DSN"), "Postgres connection string")
	migrationsDir := flag.String("migrations-dir", "./migrations", "Path to migrations directory")
	flag.CommandLine.Parse(os.Args[2:])

	if command == "create" {
		if len(flag.Args()) == 0 {
			fmt.Fprintln(os.Stderr, "Error: migration name is required")
			os.Exit(1)
		}
		if err := goose.Create(nil, *migrationsDir, flag.Args()[0], "sql"); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *dbURL == "" {
		fmt.Fprintln(os.Stderr, "Error: --database-url or POSTGRES_DSN is required")
		os.Exit(1)
	}

	db, err := sql.Open("pgx", *dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	switch command {
	case "up":
		err = goose.Up(db, *migrationsDir)
	case "down":
		steps := int64(1)
		if len(flag.Args()) > 0 {
			if n, parseErr := strconv.ParseInt(flag.Args()[0], 10, 64); parseErr == nil {
				steps = n
			}
		}
		err = rollback(db, *migrationsDir, steps)
	case "status":
		err = goose.Status(db, *migrationsDir)
	case "version":
		err = goose.Version(db, *migrationsDir)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rollback(db *sql.DB, dir string, steps int64) error {
	current, err := goose.GetDBVersion(db)
	if err != nil {
		return err
	}
	target := current - steps
	if target < 0 {
		target = 0
	}
	return goose.DownTo(db, dir, target)
}

func printUsage() {
	fmt.Println("CargoFlow Migration Tool")
	fmt.Println()
	fmt.Println("Usage: cargoflow-migrate <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  up            - Apply all pending migrations")
	fmt.Println("  down [N]      - Rollback N migrations (default: 1)")
	fmt.Println("  status        - Show migration status")
	fmt.Println("  version       - Show current schema version")
	fmt.Println("  create <name> - Create a new SQL migration")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --database-url   Postgres connection string (or POSTGRES_DSN)")
	fmt.Println("  --migrations-dir Path to migrations directory (default ./migrations)")
}

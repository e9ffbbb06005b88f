package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/saaskit/backend/internal/infrastructure/config"
	"github.com/saaskit/backend/internal/infrastructure/logger"
	"github.com/saaskit/backend/internal/infrastructure/migration"
	"go.uber.org/zap"
)

const usage = `Usage: migrate [flags] <command>

Commands:
  up              apply all pending migrations
  down            roll back the most recent migration
  version         print the current schema version
  force <v>       overwrite the schema version (recovery only)
  create <name>   create an empty up/down migration pair

Flags:
  -path string    migrations directory (default "migrations")
`

func main() {
	path := flag.String("path", "migrations", "migrations directory")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	log := logger.Must(cfg.Log)
	defer func() { _ = log.Sync() }()

	// create does not need a database connection
	if args[0] == "create" {
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "create requires a migration name")
			os.Exit(2)
		}
		up, down, err := migration.Create(*path, args[1])
		if err != nil {
			log.Fatal("failed to create migration", zap.Error(err))
		}
		fmt.Println(up)
		fmt.Println(down)
		return
	}

	runner, err := migration.NewRunner(databaseURL(cfg), *path, log)
	if err != nil {
		log.Fatal("failed to initialize migrations", zap.Error(err))
	}
	defer func() { _ = runner.Close() }()

	switch args[0] {
	case "up":
		err = runner.Up()
	case "down":
		err = runner.Down()
	case "version":
		version, dirty, ok, verr := runner.Version()
		if verr != nil {
			err = verr
			break
		}
		if !ok {
			fmt.Println("no migrations applied")
			break
		}
		fmt.Printf("version %d dirty=%t\n", version, dirty)
	case "force":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "force requires a version number")
			os.Exit(2)
		}
		v, perr := strconv.Atoi(args[1])
		if perr != nil {
			fmt.Fprintln(os.Stderr, "invalid version:", args[1])
			os.Exit(2)
		}
		err = runner.Force(v)
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatal("migration command failed", zap.Error(err))
	}
}

func databaseURL(cfg *config.Config) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.DBName,
		cfg.Database.SSLMode,
	)
}

// Package main is the entrypoint for the WalletConnect bridge (binary name "bridge").
package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/walletconnect/internal/bridge"
	"github.com/morezero/walletconnect/internal/config"
	"github.com/morezero/walletconnect/pkg/db"
)

const usage = `Usage: bridge [command]
       bridge serve              Start the bridge (WebSocket relay, HTTP health, metrics).
       bridge migrate up         Run database migrations.
       bridge migrate down       Roll back the last applied migration.
       bridge migrate status     Show migration status.
       bridge ensure-db [name]   Create database if missing (default name: bridge_test). Uses DATABASE_URL host/user.
       bridge clear [topic...]   Delete pending frames (all, or only the given topics).

Commands:
  serve            (default) Start the bridge.
  migrate up       Run database migrations only.
  migrate down     Roll back the last applied migration.
  migrate status   Show current migration status.
  ensure-db [name] Create database (e.g. bridge_test) on same host as DATABASE_URL.
  clear [topic...] Delete pending frames; schema preserved.

Environment: DATABASE_URL (empty keeps pending frames in memory), MIGRATION_PATH, BRIDGE_HTTP_ADDR
(default :8080), COMMS_URL or COMMS_EMBEDDED for the NATS backplane, BRIDGE_NODE_ID, LOG_LEVEL.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("bridge migrate: require subcommand (up, down, status)")
		}
		sub := args[1]
		var err error
		switch sub {
		case "up":
			err = withPool(runMigrateUp)
		case "status":
			err = withPool(runMigrateStatus)
		case "down":
			err = withPool(runMigrateDown)
		default:
			log.Fatalf("bridge migrate: unknown subcommand %q (use up, down, status)", sub)
		}
		if err != nil {
			log.Fatalf("bridge migrate %s: %v", sub, err)
		}
		return
	case "clear":
		if err := withPool(clearCommand(args[1:])); err != nil {
			log.Fatalf("bridge clear: %v", err)
		}
		return
	case "ensure-db":
		dbName := "bridge_test"
		if len(args) > 1 && args[1] != "" {
			dbName = args[1]
		}
		if err := runEnsureDB(dbName); err != nil {
			log.Fatalf("bridge ensure-db: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := bridge.Run(); err != nil {
		log.Fatalf("bridge: %v", err)
	}
}

type poolCommand func(ctx context.Context, cfg *config.BridgeConfig, pool *pgxpool.Pool) error

// withPool loads config, opens the database and runs fn against it.
func withPool(fn poolCommand) error {
	cfg, err := config.LoadBridgeConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func runMigrateUp(ctx context.Context, cfg *config.BridgeConfig, pool *pgxpool.Pool) error {
	migrations, err := db.LoadMigrations(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := db.RunMigrations(ctx, pool, migrations); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func runMigrateStatus(ctx context.Context, cfg *config.BridgeConfig, pool *pgxpool.Pool) error {
	return db.MigrationStatus(ctx, pool, cfg.MigrationPath)
}

func runMigrateDown(ctx context.Context, cfg *config.BridgeConfig, pool *pgxpool.Pool) error {
	return db.MigrationDown(ctx, pool, cfg.MigrationPath)
}

// clearCommand removes pending frames for topics, or all of them when topics is empty.
func clearCommand(topics []string) poolCommand {
	return func(ctx context.Context, _ *config.BridgeConfig, pool *pgxpool.Pool) error {
		n, err := db.ClearPending(ctx, pool, topics...)
		if err != nil {
			return fmt.Errorf("clear pending frames: %w", err)
		}
		fmt.Printf("removed %d pending frames\n", n)
		return nil
	}
}

func runEnsureDB(dbName string) error {
	cfg, err := config.LoadBridgeConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	targetURL, err := databaseURLFor(cfg.DatabaseURL, dbName)
	if err != nil {
		return err
	}
	created, err := db.EnsureDatabase(context.Background(), targetURL)
	if err != nil {
		return err
	}
	if created {
		fmt.Printf("Database %q created.\n", dbName)
	} else {
		fmt.Printf("Database %q is ready.\n", dbName)
	}
	return nil
}

// databaseURLFor swaps the database name in databaseURL, keeping host, user and query.
func databaseURLFor(databaseURL, dbName string) (string, error) {
	if databaseURL == "" {
		return "", fmt.Errorf("DATABASE_URL is required")
	}
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	u.Path = "/" + dbName
	return u.String(), nil
}

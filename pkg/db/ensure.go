package db

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

const ensureLogPrefix = "db:ensure"

// maintenanceDB is the database EnsureDatabase connects to while the target may not exist yet.
const maintenanceDB = "postgres"

var dbNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// EnsureDatabase creates the database named in databaseURL when the server lacks it. It
// reports whether a CREATE DATABASE ran.
func EnsureDatabase(ctx context.Context, databaseURL string) (bool, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return false, fmt.Errorf("%s - invalid database URL: %w", ensureLogPrefix, err)
	}
	name, err := targetDatabase(u)
	if err != nil {
		return false, err
	}

	connConfig, err := pgx.ParseConfig(maintenanceURL(u))
	if err != nil {
		return false, fmt.Errorf("%s - failed to parse maintenance URL: %w", ensureLogPrefix, err)
	}
	// CREATE DATABASE cannot be prepared.
	connConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	conn, err := pgx.ConnectConfig(ctx, connConfig)
	if err != nil {
		return false, fmt.Errorf("%s - failed to connect to %s: %w", ensureLogPrefix, maintenanceDB, err)
	}
	defer conn.Close(context.Background())

	var found bool
	if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, name).Scan(&found); err != nil {
		return false, fmt.Errorf("%s - failed to look up %q: %w", ensureLogPrefix, name, err)
	}
	if found {
		slog.Debug(fmt.Sprintf("%s - database %q present", ensureLogPrefix, name))
		return false, nil
	}

	if _, err := conn.Exec(ctx, "CREATE DATABASE "+quoteIdent(name)); err != nil {
		return false, fmt.Errorf("%s - failed to create %q: %w", ensureLogPrefix, name, err)
	}
	slog.Info(fmt.Sprintf("%s - Created database %q", ensureLogPrefix, name))
	return true, nil
}

// targetDatabase extracts and validates the database name from u's path.
func targetDatabase(u *url.URL) (string, error) {
	name := strings.TrimSpace(strings.Trim(u.Path, "/"))
	switch {
	case name == "":
		return "", fmt.Errorf("%s - no database name in URL", ensureLogPrefix)
	case !dbNamePattern.MatchString(name):
		return "", fmt.Errorf("%s - database name %q must be letters, digits or underscores", ensureLogPrefix, name)
	}
	return name, nil
}

// maintenanceURL points u at the maintenance database, keeping credentials and query options.
func maintenanceURL(u *url.URL) string {
	m := *u
	m.Path = "/" + maintenanceDB
	m.RawPath = ""
	return m.String()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

package db

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const migrationsLogPrefix = "db:migrations"

const (
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

// LoadMigrations reads dir and pairs "<name>.up.sql" with "<name>.down.sql", sorted by name.
// A plain "<name>.sql" is an up step without a down step.
func LoadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read migration dir %s: %w", migrationsLogPrefix, dir, err)
	}

	byName := make(map[string]*Migration)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		file := e.Name()
		name, down := migrationName(file)

		data, err := os.ReadFile(filepath.Join(dir, file))
		if err != nil {
			return nil, fmt.Errorf("%s - failed to read %s: %w", migrationsLogPrefix, file, err)
		}
		m, ok := byName[name]
		if !ok {
			m = &Migration{Name: name}
			byName[name] = m
		}
		if down {
			m.Down = string(data)
		} else {
			m.Up = string(data)
		}
	}

	names := make([]string, 0, len(byName))
	for name, m := range byName {
		if m.Up == "" {
			return nil, fmt.Errorf("%s - migration %s has a down step but no up step", migrationsLogPrefix, name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		out = append(out, *byName[name])
	}
	slog.Info(fmt.Sprintf("%s - Loaded %d migrations from %s", migrationsLogPrefix, len(out), dir))
	return out, nil
}

func migrationName(file string) (name string, down bool) {
	switch {
	case strings.HasSuffix(file, downSuffix):
		return strings.TrimSuffix(file, downSuffix), true
	case strings.HasSuffix(file, upSuffix):
		return strings.TrimSuffix(file, upSuffix), false
	default:
		return strings.TrimSuffix(file, ".sql"), false
	}
}

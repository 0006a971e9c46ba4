package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migration is one versioned SQL file, e.g. "001_core.sql".
type Migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

// MigrationStatus reports whether a migration has been applied and whether
// the file still matches what was applied.
type MigrationStatus struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt *time.Time
	Modified  bool
}

// Migrator applies SQL files from a directory in version order. Applied
// versions are recorded in schema_migrations inside the target schema.
type Migrator struct {
	pool *pgxpool.Pool
	dir  string
}

func NewMigrator(pool *pgxpool.Pool, migrationsDir string) *Migrator {
	return &Migrator{
		pool: pool,
		dir:  migrationsDir,
	}
}

func (m *Migrator) ensureTable(ctx context.Context, schema string) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.schema_migrations (
    version    INTEGER PRIMARY KEY,
    name       VARCHAR(255) NOT NULL,
    checksum   CHAR(64) NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, schema)

	if _, err := m.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create schema_migrations in %s: %w", schema, err)
	}
	return nil
}

// LoadMigrations reads the .sql files with a numeric prefix, sorted by
// version. Other files are skipped. Duplicate versions are an error.
func (m *Migrator) LoadMigrations() ([]Migration, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory %s: %w", m.dir, err)
	}

	seen := make(map[int]string)
	var migrations []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %d: %s and %s", version, other, name)
		}
		seen[version] = name

		content, err := os.ReadFile(filepath.Join(m.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", name, err)
		}

		sum := sha256.Sum256(content)
		migrations = append(migrations, Migration{
			Version:  version,
			Name:     name,
			SQL:      string(content),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

type appliedMigration struct {
	checksum  string
	appliedAt time.Time
}

func (m *Migrator) applied(ctx context.Context, schema string) (map[int]appliedMigration, error) {
	rows, err := m.pool.Query(ctx, fmt.Sprintf(`SELECT version, checksum, applied_at FROM %s.schema_migrations`, schema))
	if err != nil {
		return nil, fmt.Errorf("query applied migrations in %s: %w", schema, err)
	}
	defer rows.Close()

	out := make(map[int]appliedMigration)
	for rows.Next() {
		var v int
		var a appliedMigration
		if err := rows.Scan(&v, &a.checksum, &a.appliedAt); err != nil {
			return nil, fmt.Errorf("scan migration row: %w", err)
		}
		out[v] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return out, nil
}

// Up applies every pending migration. Each migration runs in its own
// transaction. Returns the number applied.
func (m *Migrator) Up(ctx context.Context, schema string) (int, error) {
	if err := m.ensureTable(ctx, schema); err != nil {
		return 0, err
	}

	migrations, err := m.LoadMigrations()
	if err != nil {
		return 0, err
	}

	done, err := m.applied(ctx, schema)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range migrations {
		if prev, ok := done[mig.Version]; ok {
			if prev.checksum != mig.Checksum {
				return count, fmt.Errorf("migration %s was modified after it was applied", mig.Name)
			}
			continue
		}

		if err := m.apply(ctx, schema, mig); err != nil {
			return count, fmt.Errorf("apply migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		count++
	}

	return count, nil
}

func (m *Migrator) apply(ctx context.Context, schema string, mig Migration) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL search_path TO %s, public", schema)); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}

	if _, err := tx.Exec(ctx, mig.SQL); err != nil {
		return fmt.Errorf("execute SQL: %w", err)
	}

	if _, err := tx.Exec(ctx,
		fmt.Sprintf("INSERT INTO %s.schema_migrations (version, name, checksum) VALUES ($1, $2, $3)", schema),
		mig.Version, mig.Name, mig.Checksum,
	); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}

	return tx.Commit(ctx)
}

// Status lists every known migration with its applied state.
func (m *Migrator) Status(ctx context.Context, schema string) ([]MigrationStatus, error) {
	if err := m.ensureTable(ctx, schema); err != nil {
		return nil, err
	}

	migrations, err := m.LoadMigrations()
	if err != nil {
		return nil, err
	}

	done, err := m.applied(ctx, schema)
	if err != nil {
		return nil, err
	}

	return buildStatus(migrations, done), nil
}

func buildStatus(migrations []Migration, done map[int]appliedMigration) []MigrationStatus {
	statuses := make([]MigrationStatus, 0, len(migrations))
	for _, mig := range migrations {
		st := MigrationStatus{Version: mig.Version, Name: mig.Name}
		if prev, ok := done[mig.Version]; ok {
			at := prev.appliedAt
			st.Applied = true
			st.AppliedAt = &at
			st.Modified = prev.checksum != mig.Checksum
		}
		statuses = append(statuses, st)
	}
	return statuses
}

package storage

import (
	"context"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const migrationsTable = "triage_journal_migrations"

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS ` + migrationsTable + ` (
	version UInt32,
	name String,
	checksum FixedString(64),
	applied_at DateTime DEFAULT now()
)
ENGINE = ReplacingMergeTree(applied_at)
ORDER BY version`

// Migration is one schema change, loaded from a NNN_name.sql file.
type Migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

func (m Migration) String() string {
	return fmt.Sprintf("%03d_%s", m.Version, m.Name)
}

type appliedMigration struct {
	Version  uint32 `ch:"version"`
	Checksum string `ch:"checksum"`
}

// Migrator brings the journal schema up to date. Applied migrations are
// recorded with a checksum; a file edited after it was applied stops the
// run with ErrMigrationChanged.
type Migrator struct {
	conn   Conn
	source fs.FS
	logger *slog.Logger
}

// NewMigrator returns a Migrator for the embedded journal migrations.
func NewMigrator(conn Conn, logger *slog.Logger) *Migrator {
	source, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		panic(err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{conn: conn, source: source, logger: logger}
}

// Run applies every migration not yet recorded, in version order.
func (m *Migrator) Run(ctx context.Context) error {
	migrations, err := loadMigrations(m.source)
	if err != nil {
		return fmt.Errorf("load journal migrations: %w", err)
	}
	if err := m.conn.Exec(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("create %s: %w", migrationsTable, err)
	}

	var rows []appliedMigration
	if err := m.conn.Select(ctx, &rows, "SELECT version, checksum FROM "+migrationsTable+" FINAL"); err != nil {
		return fmt.Errorf("read %s: %w", migrationsTable, err)
	}
	applied := make(map[int]string, len(rows))
	for _, r := range rows {
		applied[int(r.Version)] = r.Checksum
	}

	ran := 0
	for _, mig := range migrations {
		if sum, ok := applied[mig.Version]; ok {
			if sum != mig.Checksum {
				return fmt.Errorf("%w: %s", ErrMigrationChanged, mig)
			}
			continue
		}

		for i, stmt := range splitStatements(mig.SQL) {
			if err := m.conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("migration %s statement %d: %w", mig, i+1, err)
			}
		}
		err := m.conn.Exec(ctx,
			"INSERT INTO "+migrationsTable+" (version, name, checksum) VALUES (?, ?, ?)",
			uint32(mig.Version), mig.Name, mig.Checksum)
		if err != nil {
			return fmt.Errorf("record migration %s: %w", mig, err)
		}
		m.logger.Info("journal migration applied", "migration", mig.String())
		ran++
	}

	m.logger.Debug("journal schema up to date", "applied_now", ran, "known", len(migrations))
	return nil
}

// loadMigrations reads NNN_name.sql files from the root of fsys, sorted by
// version. Any other .sql name, or a repeated version, is an error.
func loadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	seen := make(map[int]string)
	var out []Migration
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}

		num, name, ok := strings.Cut(strings.TrimSuffix(e.Name(), ".sql"), "_")
		version, err := strconv.Atoi(num)
		if !ok || err != nil || version <= 0 || name == "" {
			return nil, fmt.Errorf("migration file %q is not named NNN_name.sql", e.Name())
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migration version %d used by both %s and %s", version, prev, e.Name())
		}
		seen[version] = e.Name()

		body, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, err
		}
		sum := blake2b.Sum256(body)
		out = append(out, Migration{
			Version:  version,
			Name:     name,
			SQL:      string(body),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// splitStatements drops whole-line -- comments and splits on semicolons
// outside single-quoted strings.
func splitStatements(sql string) []string {
	var (
		out    []string
		b      strings.Builder
		quoted bool
	)
	emit := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			out = append(out, s)
		}
		b.Reset()
	}

	for _, line := range strings.Split(sql, "\n") {
		if !quoted && strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for _, r := range line {
			if r == '\'' {
				quoted = !quoted
			} else if r == ';' && !quoted {
				emit()
				continue
			}
			b.WriteRune(r)
		}
		b.WriteByte('\n')
	}
	emit()
	return out
}

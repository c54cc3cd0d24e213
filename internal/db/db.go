// Package db opens the catalog database, applies the embedded migrations and
// performs boot-time recovery of work interrupted by a crash.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Dialect selects placeholder syntax and driver-specific setup.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// TimeLayout is the fixed-width UTC layout used for every timestamp column, so
// lexical order matches chronological order in both dialects.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime is the inverse of FormatTime. Malformed values yield the zero time.
func ParseTime(s string) time.Time {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

type DB struct {
	conn    *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// New opens (creating if needed) the SQLite database at dbPath.
func New(dbPath string, logger *slog.Logger) (*DB, error) {
	return Open(SQLite, dbPath, logger)
}

// Open connects to the database for the given dialect and runs migrations.
func Open(dialect Dialect, dsn string, logger *slog.Logger) (*DB, error) {
	var (
		conn *sql.DB
		err  error
	)
	switch dialect {
	case SQLite:
		conn, err = openSQLite(dsn)
	case Postgres:
		conn, err = openPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported database dialect %q", dialect)
	}
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn, dialect: dialect, logger: logger}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

func openSQLite(dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return conn, nil
}

func openPostgres(dsn string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(16)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return conn, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) Conn() *sql.DB {
	return d.conn
}

func (d *DB) Dialect() Dialect {
	return d.dialect
}

// Rebind rewrites ? placeholders for the connection's dialect.
func (d *DB) Rebind(query string) string {
	return Rebind(d.dialect, query)
}

// Rebind converts ? placeholders to $1..$n for postgres. Queries in this
// module never contain a literal question mark.
func Rebind(dialect Dialect, query string) string {
	if dialect != Postgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (d *DB) migrate() error {
	if _, err := d.conn.Exec(`CREATE TABLE IF NOT EXISTS _migrations (name TEXT PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Name() < migrations[j].Name() })

	for _, m := range migrations {
		if m.IsDir() {
			continue
		}

		name := m.Name()

		applied, err := d.isMigrationApplied(name)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		if _, err := d.conn.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", name, err)
		}

		if _, err := d.conn.Exec(d.Rebind("INSERT INTO _migrations (name, applied_at) VALUES (?, ?)"), name, FormatTime(time.Now())); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", name, err)
		}

		if d.logger != nil {
			d.logger.Info("applied migration", "name", name)
		}
	}

	return nil
}

func (d *DB) isMigrationApplied(name string) (bool, error) {
	var applied int
	err := d.conn.QueryRow(d.Rebind("SELECT 1 FROM _migrations WHERE name = ?"), name).Scan(&applied)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check migration %s: %w", name, err)
	}
	return applied == 1, nil
}

// RecoveryStats counts rows touched by RecoverInterrupted.
type RecoveryStats struct {
	Tasks  int64
	Clips  int64
	Videos int64
}

// RecoverInterrupted fails tasks left STARTED by a previous process and
// releases the entities they held. Call it only from the process that owns
// the workers; PENDING tasks are left for the dispatcher to pick up again.
func (d *DB) RecoverInterrupted(ctx context.Context) (RecoveryStats, error) {
	var stats RecoveryStats
	now := FormatTime(time.Now())

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return stats, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, d.Rebind(
		`UPDATE tasks SET status = 'FAILURE', error = 'interrupted by restart', updated_at = ? WHERE status = 'STARTED'`), now)
	if err != nil {
		return stats, fmt.Errorf("fail interrupted tasks: %w", err)
	}
	stats.Tasks, _ = res.RowsAffected()

	res, err = tx.ExecContext(ctx, d.Rebind(`
		UPDATE clips SET conversion_status = 'NONE', updated_at = ?
		WHERE conversion_status = 'PROCESSING'
		  AND id NOT IN (SELECT subject_id FROM tasks WHERE kind = 'CONVERSION' AND status IN ('PENDING', 'STARTED'))`), now)
	if err != nil {
		return stats, fmt.Errorf("release interrupted clips: %w", err)
	}
	stats.Clips, _ = res.RowsAffected()

	res, err = tx.ExecContext(ctx, d.Rebind(`
		UPDATE videos SET status = 'FAILED', error = 'interrupted by restart', updated_at = ?
		WHERE status IN ('QUEUED', 'PROCESSING')
		  AND task_id IN (SELECT id FROM tasks WHERE status = 'FAILURE')`), now)
	if err != nil {
		return stats, fmt.Errorf("fail interrupted videos: %w", err)
	}
	stats.Videos, _ = res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return stats, err
	}

	if d.logger != nil && (stats.Tasks > 0 || stats.Clips > 0 || stats.Videos > 0) {
		d.logger.Warn("recovered interrupted work",
			"tasks", stats.Tasks,
			"clips", stats.Clips,
			"videos", stats.Videos,
		)
	}
	return stats, nil
}

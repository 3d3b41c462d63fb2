package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - initial schema
// 1 - index on ledger_entries.identity for per-identity lookups
const currentSchemaVersion = 1

// SQLiteLedger stores entries in a SQLite database in WAL mode.
type SQLiteLedger struct {
	db *sql.DB
}

// OpenSQLite creates or opens the ledger database at path and applies
// pragmas and migrations. Safe to call on an existing database.
func OpenSQLite(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteLedger{db: db}, nil
}

func (l *SQLiteLedger) Has(ctx context.Context, kind ActionKind, identity string) (bool, error) {
	if err := validate(kind, identity); err != nil {
		return false, err
	}
	var count int
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ledger_entries
		WHERE kind = ? AND identity = ?
	`, string(kind), identity).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check ledger entry: %w", err)
	}
	return count > 0, nil
}

// Mark inserts the entry. ON CONFLICT DO NOTHING makes repeated marks no-ops.
func (l *SQLiteLedger) Mark(ctx context.Context, kind ActionKind, identity string) error {
	if err := validate(kind, identity); err != nil {
		return err
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (kind, identity)
		VALUES (?, ?)
		ON CONFLICT(kind, identity) DO NOTHING
	`, string(kind), identity)
	if err != nil {
		return fmt.Errorf("write ledger entry: %w", err)
	}
	return nil
}

func (l *SQLiteLedger) Snapshot(ctx context.Context) (Snapshot, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT kind, identity FROM ledger_entries
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	defer rows.Close()

	snap := make(Snapshot)
	for rows.Next() {
		var kind, identity string
		if err := rows.Scan(&kind, &identity); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		snap[ActionKind(kind)] = append(snap[ActionKind(kind)], identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return snap, nil
}

func (l *SQLiteLedger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_ledger_entries_identity
		ON ledger_entries(identity)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (l *SQLiteLedger) verifyPragma(name, expected string) error {
	var value string
	if err := l.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

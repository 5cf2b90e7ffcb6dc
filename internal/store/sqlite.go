package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLite is the production Store implementation: a single namespaced records
// table in a local SQLite database.
type SQLite struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*SQLite, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "memchat.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *SQLite) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *SQLite) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// Put inserts or replaces the record under (ns, key). On replace the original
// created_at is preserved so Search ordering stays stable.
func (s *SQLite) Put(ctx context.Context, ns Namespace, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return fmt.Errorf("putting record %s/%s: value is not valid JSON", ns, key)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (scope, user_id, key, value, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(scope, user_id, key) DO UPDATE SET value = excluded.value`,
		ns.Scope, ns.UserID, key, string(value), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("%w: putting record %s/%s: %v", ErrUnavailable, ns, key, err)
	}
	return nil
}

// Get returns the record under (ns, key), or ErrNotFound.
func (s *SQLite) Get(ctx context.Context, ns Namespace, key string) (Record, error) {
	var rec Record
	var value, createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT key, value, created_at FROM records
		WHERE scope = ? AND user_id = ? AND key = ?`,
		ns.Scope, ns.UserID, key,
	).Scan(&rec.Key, &value, &createdAt)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: getting record %s/%s: %v", ErrUnavailable, ns, key, err)
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Record{}, fmt.Errorf("parsing created_at: %w", err)
	}
	rec.Value = json.RawMessage(value)
	rec.CreatedAt = t
	return rec, nil
}

// Search returns every record in the namespace, ordered by (created_at, key)
// ascending. This is an exhaustive scan: no ranking, no limit.
func (s *SQLite) Search(ctx context.Context, ns Namespace) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value, created_at FROM records
		WHERE scope = ? AND user_id = ?
		ORDER BY created_at ASC, key ASC`,
		ns.Scope, ns.UserID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: searching namespace %s: %v", ErrUnavailable, ns, err)
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		var rec Record
		var value, createdAt string
		if err := rows.Scan(&rec.Key, &value, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		rec.Value = json.RawMessage(value)
		rec.CreatedAt = t
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: searching namespace %s: %v", ErrUnavailable, ns, err)
	}
	return results, nil
}

// Delete removes the record under (ns, key). Deleting a missing record
// returns ErrNotFound.
func (s *SQLite) Delete(ctx context.Context, ns Namespace, key string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE scope = ? AND user_id = ? AND key = ?`,
		ns.Scope, ns.UserID, key,
	)
	if err != nil {
		return fmt.Errorf("%w: deleting record %s/%s: %v", ErrUnavailable, ns, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteNamespace removes every record in the namespace.
func (s *SQLite) DeleteNamespace(ctx context.Context, ns Namespace) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE scope = ? AND user_id = ?`,
		ns.Scope, ns.UserID,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: clearing namespace %s: %v", ErrUnavailable, ns, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// DeleteScope removes every record under a scope, across all users.
func (s *SQLite) DeleteScope(ctx context.Context, scope string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE scope = ?`, scope)
	if err != nil {
		return 0, fmt.Errorf("%w: clearing scope %s: %v", ErrUnavailable, scope, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ListUserIDs returns the distinct user IDs with records under scope.
func (s *SQLite) ListUserIDs(ctx context.Context, scope string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM records WHERE scope = ? ORDER BY user_id ASC`, scope,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: listing users for scope %s: %v", ErrUnavailable, scope, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

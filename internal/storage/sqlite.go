package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is a fixed-width RFC 3339 encoding for the created_at text
// column. RFC3339Nano drops trailing fractional zeros, making the text
// variable-width: a whole-second value ("...00Z") then sorts after a newer
// fractional one ("...00.5Z") and breaks the lexicographic ordering that
// GetRecent and Prune rely on. Padding to nine digits keeps byte order
// identical to time order. Reads still parse with RFC3339Nano, which
// accepts any fractional width.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps a SQLite database holding interaction records and knowledge
// units. Exactly one Store may own a database file at a time; opening two
// stores on the same path is undefined behavior and is the caller's
// responsibility to avoid.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at dbPath and runs pending
// migrations. Pass ":memory:" for an in-memory database (used by tests).
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Single connection serializes writers and avoids "database is locked".
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle so the unit index can share the same
// database file and write-serialization discipline.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't
// been run yet.
func (s *Store) migrate() error {
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

// AppliedMigrations returns the applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
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

// --- Interaction records ---

// Add validates and persists a record, assigning ID and timestamp when
// absent, and returns the assigned ID. Malformed input yields ErrValidation
// and leaves the store unchanged; callers treat that as "not added", not as
// a failure that aborts a request pipeline.
func (s *Store) Add(rec InteractionRecord) (string, error) {
	if strings.TrimSpace(rec.Query) == "" {
		return "", fmt.Errorf("%w: empty query", ErrValidation)
	}
	if strings.TrimSpace(rec.Response) == "" {
		return "", fmt.Errorf("%w: empty response", ErrValidation)
	}
	metaJSON, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return "", fmt.Errorf("%w: metadata not representable: %v", ErrValidation, err)
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	// seq preserves insertion order for stable timestamp tie-breaks.
	_, err = s.db.Exec(`
		INSERT INTO interactions (id, seq, created_at, query, response, metadata)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM interactions), ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UTC().Format(timeLayout), rec.Query, rec.Response, metaJSON,
	)
	if err != nil {
		return "", fmt.Errorf("inserting interaction: %w", err)
	}
	return rec.ID, nil
}

// Get returns a single record by ID, or ErrNotFound.
func (s *Store) Get(id string) (InteractionRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, created_at, query, response, metadata
		FROM interactions WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return InteractionRecord{}, ErrNotFound
	}
	return rec, err
}

// GetRecent returns at most limit records ordered by timestamp descending.
// Timestamp ties keep insertion order. A non-positive limit yields an empty
// result.
func (s *Store) GetRecent(limit int) ([]InteractionRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.Query(`
		SELECT id, created_at, query, response, metadata
		FROM interactions ORDER BY created_at DESC, seq ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent interactions: %w", err)
	}
	defer rows.Close()

	var records []InteractionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Update applies the supplied fields to an existing record. An unknown ID
// is a no-op returning false, never an error.
func (s *Store) Update(id string, patch RecordPatch) (bool, error) {
	sets := make([]string, 0, 4)
	args := make([]any, 0, 5)

	if patch.Query != nil {
		sets = append(sets, "query = ?")
		args = append(args, *patch.Query)
	}
	if patch.Response != nil {
		sets = append(sets, "response = ?")
		args = append(args, *patch.Response)
	}
	if patch.Timestamp != nil {
		sets = append(sets, "created_at = ?")
		args = append(args, patch.Timestamp.UTC().Format(timeLayout))
	}
	if patch.Metadata != nil {
		metaJSON, err := marshalMetadata(patch.Metadata)
		if err != nil {
			return false, fmt.Errorf("%w: metadata not representable: %v", ErrValidation, err)
		}
		sets = append(sets, "metadata = ?")
		args = append(args, metaJSON)
	}
	if len(sets) == 0 {
		return false, nil
	}

	args = append(args, id)
	res, err := s.db.Exec("UPDATE interactions SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return false, fmt.Errorf("updating interaction %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes a record. An unknown ID is a no-op returning false.
func (s *Store) Delete(id string) (bool, error) {
	res, err := s.db.Exec("DELETE FROM interactions WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("deleting interaction %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Count returns the number of stored interaction records.
func (s *Store) Count() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM interactions").Scan(&count)
	return count, err
}

// Prune deletes records older than now - horizon and returns the number
// removed. A non-positive horizon disables pruning (no-op).
func (s *Store) Prune(horizon time.Duration) (int, error) {
	if horizon <= 0 {
		return 0, nil
	}

	cutoff := time.Now().UTC().Add(-horizon).Format(timeLayout)
	res, err := s.db.Exec("DELETE FROM interactions WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning interactions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (InteractionRecord, error) {
	var rec InteractionRecord
	var createdAt, metaJSON string
	if err := sc.Scan(&rec.ID, &createdAt, &rec.Query, &rec.Response, &metaJSON); err != nil {
		return InteractionRecord{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return InteractionRecord{}, fmt.Errorf("parsing created_at for %s: %w", rec.ID, err)
	}
	rec.Timestamp = t
	if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
		return InteractionRecord{}, fmt.Errorf("parsing metadata for %s: %w", rec.ID, err)
	}
	return rec, nil
}

// marshalMetadata serializes metadata, rejecting values that cannot survive
// a JSON round trip. A nil map serializes as an empty object.
func marshalMetadata(meta map[string]any) (string, error) {
	if meta == nil {
		return "{}", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Package sqlite implements storage.Store on top of modernc.org/sqlite: one
// physical database file holding the row store, the brute-force vector
// index, the link graph, and an FTS5 inverted index kept coherent by
// triggers. There is exactly one writer; see Store's doc comment.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hollow-oak/mnemo/internal/storage"
	"github.com/hollow-oak/mnemo/pkg/types"
)

// Config holds the tuning constants from the external interface section:
// distance thresholds for the write-time admission policy and the composite
// recall score's weights. DefaultConfig returns a Config with every constant
// set; Open uses the Config it is given as is, so zero-valued fields stay zero.
type Config struct {
	EmbedDim            int
	AutoLinkThreshold   float64
	AutoLinkMaxNeighbors int
	AutoMergeThreshold  float64

	WeightSimilarity float64
	WeightRecency    float64
	WeightFrequency  float64
	WeightLinkBoost  float64
	WeightRating     float64
	WeightTagBoost   float64
	WeightFTSBoost   float64
	HalfLifeDays     float64

	BoostTags []string
}

// DefaultConfig returns the tuning constants named in the external
// interface table.
func DefaultConfig() Config {
	return Config{
		EmbedDim:             384,
		AutoLinkThreshold:    0.3,
		AutoLinkMaxNeighbors: 5,
		AutoMergeThreshold:   0.15,

		WeightSimilarity: 1.00,
		WeightRecency:    0.10,
		WeightFrequency:  0.05,
		WeightLinkBoost:  0.10,
		WeightRating:     0.15,
		WeightTagBoost:   0.20,
		WeightFTSBoost:   0.50,
		HalfLifeDays:     7,
	}
}

// Store implements storage.Store. All mutating methods acquire mu, giving
// the process the single total write order the concurrency model requires;
// the engine layer is responsible for never holding this lock across an
// embed call.
type Store struct {
	db  *sql.DB
	cfg Config
	mu  sync.Mutex
}

var _ storage.Store = (*Store)(nil)

// Open opens (creating it and its parent directories if absent) a SQLite
// database at dsn and ensures its schema, recovering from a stale WAL left
// by a crashed process if needed.
func Open(dsn string, cfg Config) (*Store, error) {
	if dbPath := dbPathFromDSN(dsn); dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: failed to create database directory: %w", err)
		}
	}

	db, err := openDB(dsn)
	if err == nil {
		if serr := ensureSchema(db); serr != nil {
			db.Close()
			return nil, serr
		}
		return &Store{db: db, cfg: cfg}, nil
	}

	if !isRecoverableWALError(err) {
		return nil, err
	}
	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || !isWALStale(dbPath) {
		return nil, err
	}
	removeStaleWAL(dbPath)

	db, retryErr := openDB(dsn)
	if retryErr != nil {
		return nil, fmt.Errorf("sqlite: failed after WAL recovery: %w (original: %v)", retryErr, err)
	}
	log.Printf("sqlite: recovered from stale WAL files for %s", dbPath)

	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, cfg: cfg}, nil
}

func openDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite supports exactly one concurrent writer; a single open
	// connection serializes writes and avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// Close checkpoints the WAL and releases the connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// GetByMnemonic fetches a single row by mnemonic.
func (s *Store) GetByMnemonic(ctx context.Context, mnemonic string) (*types.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getByMnemonic(ctx, s.db, mnemonic)
}

// AllMemories enumerates every row, used by export.
func (s *Store) AllMemories(ctx context.Context) ([]types.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, selectMemoryColumns+` FROM memories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list memories: %w", err)
	}
	defer rows.Close()

	var out []types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

const selectMemoryColumns = `SELECT id, uuid, mnemonic, content, tags, created_at, updated_at, recall_count, last_recalled_at, useful_count, not_useful_count`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row scanner) (*types.Memory, error) {
	var (
		m             types.Memory
		tagsJSON      string
		createdAt     string
		updatedAt     string
		lastRecalled  sql.NullString
	)
	if err := row.Scan(&m.ID, &m.UUID, &m.Mnemonic, &m.Content, &tagsJSON, &createdAt, &updatedAt,
		&m.RecallCount, &lastRecalled, &m.UsefulCount, &m.NotUsefulCount); err != nil {
		return nil, err
	}

	tags, err := decodeTags(tagsJSON)
	if err != nil {
		return nil, err
	}
	m.Tags = tags

	m.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	m.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, err
	}
	if lastRecalled.Valid {
		t, err := parseTime(lastRecalled.String)
		if err != nil {
			return nil, err
		}
		m.LastRecalledAt = &t
	}
	return &m, nil
}

func (s *Store) getByMnemonic(ctx context.Context, q querier, mnemonic string) (*types.Memory, error) {
	row := q.QueryRowContext(ctx, selectMemoryColumns+` FROM memories WHERE mnemonic = ?`, mnemonic)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get memory %q: %w", mnemonic, err)
	}
	return m, nil
}

func decodeTags(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("sqlite: malformed tags json: %w", err)
	}
	return tags, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("sqlite: failed to marshal tags: %w", err)
	}
	return string(b), nil
}

const sqliteTimeLayout = "2006-01-02T15:04:05Z"

func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(sqliteTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: malformed timestamp %q: %w", s, err)
	}
	return t, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx, letting scan/query
// helpers run inside or outside a transaction without duplication.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// dbPathFromDSN extracts the filesystem path from a SQLite DSN. Handles bare
// paths and file: URIs; returns "" for in-memory databases.
func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}
	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == ":memory:" || path == "" {
			return ""
		}
		return path
	}
	return dsn
}

func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") || strings.Contains(msg, "database is locked")
}

// isWALStale reports whether -shm/-wal files exist and no other process has
// them open (via lsof). Returns false if lsof is unavailable.
func isWALStale(dbPath string) bool {
	shmPath := dbPath + "-shm"
	walPath := dbPath + "-wal"
	if !fileExists(shmPath) && !fileExists(walPath) {
		return false
	}

	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		return false
	}
	cmd := exec.Command(lsofPath, "-t", dbPath, shmPath, walPath)
	if err := cmd.Run(); err != nil {
		return true // lsof exits 1 when nothing has the files open.
	}
	return false
}

func removeStaleWAL(dbPath string) {
	for _, suffix := range []string{"-shm", "-wal"} {
		path := dbPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("sqlite: failed to remove stale %s: %v", path, err)
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Package artifacts persists captured stills: JPEG files under a
// run-scoped output directory plus a sqlite catalog describing them.
package artifacts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/logger"
)

// ErrNotFound is returned when no artifact has the requested id.
var ErrNotFound = errors.New("artifact not found")

const (
	runDirLayout   = "20060102_150405"
	runDirPrefix   = "output_"
	defaultQuality = 90
)

// Artifact is one persisted still. Rows are never updated after insert.
type Artifact struct {
	ID        string    `json:"id"`
	Channel   int       `json:"channel"`
	Enhanced  bool      `json:"enhanced"`
	Path      string    `json:"path"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Bytes     int64     `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Channel int
	Limit   int
}

// Options configures a Store.
type Options struct {
	OutputDir    string
	DatabasePath string
	JPEGQuality  int
	Logger       *logger.Logger
}

// Store writes captures into one run directory and records them in sqlite.
type Store struct {
	db      *sql.DB
	runDir  string
	quality int
	logger  *logger.Logger
	now     func() time.Time

	// serializes file name allocation
	mu sync.Mutex
}

// Open creates the run directory and opens (or creates) the catalog.
func Open(opts Options) (*Store, error) {
	if opts.OutputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if opts.DatabasePath == "" {
		opts.DatabasePath = filepath.Join(opts.OutputDir, "topside.db")
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = defaultQuality
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	now := time.Now()
	runDir := filepath.Join(opts.OutputDir, runDirPrefix+now.Format(runDirLayout))
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	if err := ensureDir(filepath.Dir(opts.DatabasePath)); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", opts.DatabasePath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{
		db:      db,
		runDir:  runDir,
		quality: opts.JPEGQuality,
		logger:  log,
		now:     time.Now,
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	log.Info("Artifact store opened", "run_dir", runDir, "database", opts.DatabasePath)
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT PRIMARY KEY,
		channel INTEGER NOT NULL,
		enhanced INTEGER NOT NULL DEFAULT 0,
		path TEXT NOT NULL UNIQUE,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		bytes INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_artifacts_channel ON artifacts(channel, created_at);
	CREATE INDEX IF NOT EXISTS idx_artifacts_created ON artifacts(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// RunDir is the directory this session writes into.
func (s *Store) RunDir() string {
	return s.runDir
}

// Close closes the catalog.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the catalog is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) insert(ctx context.Context, a *Artifact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, channel, enhanced, path, width, height, bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Channel, a.Enhanced, a.Path, a.Width, a.Height, a.Bytes, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record artifact: %w", err)
	}
	return nil
}

// Get returns one artifact by id.
func (s *Store) Get(ctx context.Context, id string) (*Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, channel, enhanced, path, width, height, bytes, created_at
		FROM artifacts WHERE id = ?`, id)

	a, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	return a, nil
}

// List returns artifacts newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Artifact, error) {
	query := `
		SELECT id, channel, enhanced, path, width, height, bytes, created_at
		FROM artifacts
		WHERE 1=1`
	args := []interface{}{}

	if filter.Channel > 0 {
		query += " AND channel = ?"
		args = append(args, filter.Channel)
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}
	defer rows.Close()

	out := make([]*Artifact, 0)
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanArtifact(row scanner) (*Artifact, error) {
	var a Artifact
	if err := row.Scan(&a.ID, &a.Channel, &a.Enhanced, &a.Path,
		&a.Width, &a.Height, &a.Bytes, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

package results

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const createActivities = `CREATE TABLE IF NOT EXISTS activities (
	id          TEXT PRIMARY KEY,
	posted_time TEXT,
	body        TEXT NOT NULL,
	source_file TEXT NOT NULL
)`

const insertActivity = `INSERT INTO activities (id, posted_time, body, source_file)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO NOTHING`

// maxLineSize bounds a single activity. Activities are a few KB; the limit only
// protects against a corrupt file without newlines.
const maxLineSize = 8 << 20

// Store holds activities from delivered data files.
type Store struct {
	db     *sql.DB
	pool   *pgxpool.Pool
	driver string
	logger *slog.Logger
}

// OpenStore connects to the activity database. postgres:// and postgresql:// DSNs
// use pgx; anything else is a SQLite file path, optionally prefixed with sqlite://.
func OpenStore(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{logger: logger.With("component", "store")}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		pc, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse database DSN: %w", err)
		}
		pc.ConnConfig.RuntimeParams["application_name"] = "historical"

		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pool, err := pgxpool.NewWithConfig(dialCtx, pc)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		s.pool = pool
		s.db = stdlib.OpenDBFromPool(pool)
		s.driver = "pgx"
	} else {
		path := strings.TrimPrefix(dsn, "sqlite://")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// one writer at a time
		db.SetMaxOpenConns(1)
		s.db = db
		s.driver = "sqlite"
	}

	if _, err := s.db.ExecContext(ctx, createActivities); err != nil {
		s.Close()
		return nil, fmt.Errorf("create activities table: %w", err)
	}
	s.logger.Info("Activity store ready", "driver", s.driver)
	return s, nil
}

// Close releases the database connections.
func (s *Store) Close() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("Failed to close database", "error", err)
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// Count returns the number of stored activities.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activities`).Scan(&n)
	return n, err
}

// LoadFile inserts the activities of one data file, one JSON activity per line.
// Gzipped files are read directly. Blank lines and "info" footer lines are skipped,
// as are lines without an id. It returns the number of lines stored; activities
// already present are ignored.
func (s *Store) LoadFile(ctx context.Context, path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open data file: %w", err)
	}
	defer file.Close()

	var r io.Reader = file
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return 0, fmt.Errorf("open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertActivity)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	source := filepath.Base(path)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	loaded, skipped := 0, 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		act, ok := parseActivity(line)
		if !ok {
			skipped++
			continue
		}
		if _, err := stmt.ExecContext(ctx, act.id, act.postedTime, string(line), source); err != nil {
			return 0, fmt.Errorf("insert activity %s: %w", act.id, err)
		}
		loaded++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read data file: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug("Loaded data file", "file", source, "activities", loaded, "skipped", skipped)
	return loaded, nil
}

type activity struct {
	id         string
	postedTime string
}

// parseActivity reads the identifying fields of an activity. Both the activity
// streams format (id, postedTime) and the original format (id_str, created_at)
// are understood.
func parseActivity(line []byte) (activity, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return activity{}, false
	}
	if _, ok := fields["info"]; ok {
		return activity{}, false
	}

	id := rawString(fields["id_str"])
	if id == "" {
		id = rawString(fields["id"])
	}
	if id == "" {
		return activity{}, false
	}

	posted := rawString(fields["postedTime"])
	if posted == "" {
		posted = rawString(fields["created_at"])
	}
	return activity{id: id, postedTime: posted}, true
}

// rawString reads a JSON string, or the literal text of a JSON number.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

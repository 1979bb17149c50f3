package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/cfgtree/pkg/loader"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a load is not recorded.
var ErrNotFound = errors.New("load not found")

// SQLiteStore records configuration loads in SQLite. It implements
// loader.Recorder.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens a separate database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Open creates, initializes and migrates a store at path.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate&_time_format=sqlite"
	if s.cfg.Path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// Record stores a load result with its diagnostics and findings in one
// transaction.
func (s *SQLiteStore) Record(ctx context.Context, res *loader.Result) error {
	sources, err := json.Marshal(nonNil(res.Sources))
	if err != nil {
		return fmt.Errorf("failed to encode sources: %w", err)
	}

	var errMsg *string
	if res.Err != nil {
		msg := res.Err.Error()
		errMsg = &msg
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO loads (id, source, code, error, blocked, sources, started_at, duration_ns, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		res.ID,
		res.Source,
		string(res.Code()),
		errMsg,
		res.Blocked(),
		string(sources),
		res.StartedAt.UTC(),
		int64(res.Duration),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert load: %w", err)
	}

	for _, d := range res.Diagnostics {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO diagnostics (load_id, file, line, message) VALUES (?, ?, ?, ?)`,
			res.ID, d.Pos.File, d.Pos.Line, d.Message)
		if err != nil {
			return fmt.Errorf("failed to insert diagnostic: %w", err)
		}
	}

	for _, f := range res.Findings {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO findings (load_id, checker, rule, path, severity, message) VALUES (?, ?, ?, ?, ?, ?)`,
			res.ID, f.Checker, f.Rule, f.Path, string(f.Severity), f.Message)
		if err != nil {
			return fmt.Errorf("failed to insert finding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit load: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

const loadColumns = `
	l.id, l.source, l.code, l.error, l.blocked, l.sources, l.started_at, l.duration_ns, l.created_at,
	(SELECT COUNT(*) FROM diagnostics d WHERE d.load_id = l.id),
	(SELECT COUNT(*) FROM findings f WHERE f.load_id = l.id)
`

type scanner interface {
	Scan(dest ...any) error
}

func scanLoad(row scanner) (*LoadRecord, error) {
	rec := &LoadRecord{}
	var sources string
	var duration int64
	err := row.Scan(
		&rec.ID,
		&rec.Source,
		&rec.Code,
		&rec.Error,
		&rec.Blocked,
		&sources,
		&rec.StartedAt,
		&duration,
		&rec.CreatedAt,
		&rec.DiagnosticCount,
		&rec.FindingCount,
	)
	if err != nil {
		return nil, err
	}
	rec.Duration = time.Duration(duration)
	if err := json.Unmarshal([]byte(sources), &rec.Sources); err != nil {
		return nil, fmt.Errorf("failed to decode sources: %w", err)
	}
	return rec, nil
}

// GetLoad retrieves a load by ID with its diagnostics and findings.
func (s *SQLiteStore) GetLoad(ctx context.Context, id string) (*LoadRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+loadColumns+` FROM loads l WHERE l.id = ?`, id)
	rec, err := scanLoad(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get load: %w", err)
	}

	if rec.Diagnostics, err = s.diagnostics(ctx, id); err != nil {
		return nil, err
	}
	if rec.Findings, err = s.findings(ctx, id); err != nil {
		return nil, err
	}

	return rec, nil
}

func (s *SQLiteStore) diagnostics(ctx context.Context, id string) ([]DiagnosticRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT file, line, message FROM diagnostics WHERE load_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get diagnostics: %w", err)
	}
	defer rows.Close()

	var out []DiagnosticRecord
	for rows.Next() {
		var d DiagnosticRecord
		if err := rows.Scan(&d.File, &d.Line, &d.Message); err != nil {
			return nil, fmt.Errorf("failed to scan diagnostic: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating diagnostics: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) findings(ctx context.Context, id string) ([]FindingRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT checker, rule, path, severity, message FROM findings WHERE load_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get findings: %w", err)
	}
	defer rows.Close()

	var out []FindingRecord
	for rows.Next() {
		var f FindingRecord
		if err := rows.Scan(&f.Checker, &f.Rule, &f.Path, &f.Severity, &f.Message); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating findings: %w", err)
	}
	return out, nil
}

// ListLoads lists loads, most recent first, with pagination.
func (s *SQLiteStore) ListLoads(ctx context.Context, filter LoadFilter, limit, offset int) ([]*LoadRecord, error) {
	var where []string
	var args []any
	if filter.Source != "" {
		where = append(where, "l.source = ?")
		args = append(args, filter.Source)
	}
	if filter.FailedOnly {
		where = append(where, "l.code != ''")
	}
	if filter.BlockedOnly {
		where = append(where, "l.blocked = 1")
	}

	query := `SELECT ` + loadColumns + ` FROM loads l`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY l.started_at DESC, l.created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list loads: %w", err)
	}
	defer rows.Close()

	loads := []*LoadRecord{}
	for rows.Next() {
		rec, err := scanLoad(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan load: %w", err)
		}
		loads = append(loads, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating loads: %w", err)
	}

	return loads, nil
}

// DeleteLoad deletes a load and everything recorded with it.
func (s *SQLiteStore) DeleteLoad(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM loads WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete load: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return nil
}

// PruneBefore deletes loads started before t and returns how many were
// deleted.
func (s *SQLiteStore) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM loads WHERE started_at < ?`, t.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune loads: %w", err)
	}
	return result.RowsAffected()
}

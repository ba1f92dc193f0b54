// Package decisionlog persists the controller's steering decisions to
// sqlite so a run can be inspected after the fact.
package decisionlog

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/reflex/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Entry is one recorded decision.
type Entry struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Stamp      time.Time `json:"stamp"`
	FrameID    string    `json:"frame_id"`
	Action     string    `json:"action"`
	Front      float64   `json:"front"`
	Left       float64   `json:"left"`
	Right      float64   `json:"right"`
	Linear     float64   `json:"linear"`
	Angular    float64   `json:"angular"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Store is the sqlite-backed decision log.
type Store struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite serialises writers; one connection avoids SQLITE_BUSY between
	// the recorder and admin queries.
	db.SetMaxOpenConns(1)

	s := &Store{DB: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// MigrateUp runs all pending migrations. It is a no-op at the latest version.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// Not closing m: that would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func (s *Store) MigrateDown() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the schema version and dirty flag. A fresh
// database reports 0, false.
func (s *Store) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...any) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// Insert writes e and returns its row id.
func (s *Store) Insert(e Entry) (int64, error) {
	recorded := e.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now()
	}
	res, err := s.Exec(`
		INSERT INTO decisions (run_id, stamp_nanos, frame_id, action, front_m, left_m, right_m, linear, angular, recorded_nanos)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Stamp.UnixNano(), e.FrameID, e.Action,
		finiteOrNull(e.Front), finiteOrNull(e.Left), finiteOrNull(e.Right),
		e.Linear, e.Angular, recorded.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert decision: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to n decisions, newest first.
func (s *Store) Recent(n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.Query(`
		SELECT decision_id, run_id, stamp_nanos, frame_id, action, front_m, left_m, right_m, linear, angular, recorded_nanos
		FROM decisions
		ORDER BY decision_id DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                  Entry
			stamp, recorded    int64
			front, left, right sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &e.RunID, &stamp, &e.FrameID, &e.Action,
			&front, &left, &right, &e.Linear, &e.Angular, &recorded); err != nil {
			return nil, err
		}
		e.Stamp = time.Unix(0, stamp).UTC()
		e.RecordedAt = time.Unix(0, recorded).UTC()
		e.Front = nullToInf(front)
		e.Left = nullToInf(left)
		e.Right = nullToInf(right)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// CountByAction returns the number of decisions of each action in a run.
func (s *Store) CountByAction(runID string) (map[string]int, error) {
	rows, err := s.Query(`SELECT action, COUNT(*) FROM decisions WHERE run_id = ? GROUP BY action`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to count decisions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var action string
		var n int
		if err := rows.Scan(&action, &n); err != nil {
			return nil, err
		}
		counts[action] = n
	}
	return counts, rows.Err()
}

// sqlite has no infinity literal; a window mean of +Inf is stored as NULL.
func finiteOrNull(v float64) any {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return v
}

func nullToInf(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.Inf(1)
	}
	return v.Float64
}

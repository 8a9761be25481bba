package session

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrationFS embed.FS

// dialect holds the driver specific SQL for one database flavor.
type dialect struct {
	name    string
	version string
	load    string
	save    string
	remove  string
	stamp   func(time.Time) any
}

var (
	sqliteDialect = dialect{
		name:    "sqlite",
		version: `INSERT INTO schema_version (version) VALUES (?)`,
		load:    `SELECT record FROM session_slots WHERE slot = ?`,
		save: `
INSERT INTO session_slots(slot, record, updated_at) VALUES(?, ?, ?)
ON CONFLICT(slot) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
		remove: `DELETE FROM session_slots WHERE slot = ?`,
		stamp:  func(t time.Time) any { return t.Format(time.RFC3339Nano) },
	}

	postgresDialect = dialect{
		name:    "postgres",
		version: `INSERT INTO schema_version (version) VALUES ($1)`,
		load:    `SELECT record FROM session_slots WHERE slot = $1`,
		save: `
INSERT INTO session_slots(slot, record, updated_at) VALUES($1, $2, $3)
ON CONFLICT(slot) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
		remove: `DELETE FROM session_slots WHERE slot = $1`,
		stamp:  func(t time.Time) any { return t },
	}
)

// sqlBackend survives restarts of the station agent, the way browser
// local storage survives a reload.
type sqlBackend struct {
	db    *sql.DB
	d     dialect
	slot  string
	owned bool
}

// openSQL opens a database the store owns and closes on failure.
func openSQL(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

func newSQLBackend(ctx context.Context, db *sql.DB, d dialect, slot string, owned bool) (*sqlBackend, error) {
	if err := migrate(ctx, db, d); err != nil {
		return nil, fmt.Errorf("session migrate: %w", err)
	}
	return &sqlBackend{db: db, d: d, slot: slot, owned: owned}, nil
}

func migrate(ctx context.Context, db *sql.DB, d dialect) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)
	if err != nil {
		return err
	}

	var current int
	row := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), -1) FROM schema_version`)
	if err = row.Scan(&current); err != nil {
		return err
	}

	dir := "migrations/" + d.name
	entries, err := migrationFS.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	for i := current + 1; i < len(entries); i++ {
		data, readErr := migrationFS.ReadFile(dir + "/" + entries[i].Name())
		if readErr != nil {
			return fmt.Errorf("read migration %d: %w", i, readErr)
		}
		if _, execErr := db.ExecContext(ctx, string(data)); execErr != nil {
			return fmt.Errorf("migration %d: %w", i, execErr)
		}
		if _, execErr := db.ExecContext(ctx, d.version, i); execErr != nil {
			return fmt.Errorf("migration %d record: %w", i, execErr)
		}
	}
	return nil
}

func (s *sqlBackend) load(ctx context.Context) ([]byte, error) {
	var val []byte
	err := s.db.QueryRowContext(ctx, s.d.load, s.slot).Scan(&val)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (s *sqlBackend) save(ctx context.Context, val []byte) error {
	_, err := s.db.ExecContext(ctx, s.d.save, s.slot, val, s.d.stamp(time.Now().UTC()))
	return err
}

func (s *sqlBackend) remove(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.d.remove, s.slot)
	return err
}

func (s *sqlBackend) close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrOrganizationNotFound is returned when an entitlement write targets an
// organization that does not exist locally.
var ErrOrganizationNotFound = errors.New("organization not found")

// Registry is the billing service's SQLite store: local organizations, the
// processed-event ledger, pending applications and the Stripe customer index.
type Registry struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the billing database in dir.
func Open(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}

	dbPath := filepath.Join(dir, "billing.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open billing db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	r := &Registry{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := r.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Registry) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS organizations (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL DEFAULT '',
		plan           TEXT NOT NULL DEFAULT '',
		role_set       TEXT NOT NULL DEFAULT '',
		member_ceiling INTEGER NOT NULL DEFAULT 0,
		members_count  INTEGER NOT NULL DEFAULT 0,
		created_at     INTEGER NOT NULL,
		updated_at     INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_organizations_plan ON organizations(plan);

	CREATE TABLE IF NOT EXISTS processed_events (
		id           TEXT PRIMARY KEY,
		type         TEXT NOT NULL DEFAULT '',
		state        TEXT NOT NULL,
		outcome      TEXT NOT NULL DEFAULT '',
		claimed_at   INTEGER NOT NULL,
		completed_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS pending_applications (
		id         TEXT PRIMARY KEY,
		org_id     TEXT NOT NULL,
		plan       TEXT NOT NULL,
		event_id   TEXT NOT NULL DEFAULT '',
		event_type TEXT NOT NULL DEFAULT '',
		attempts   INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		state      TEXT NOT NULL DEFAULT 'pending',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pending_state ON pending_applications(state, created_at);
	CREATE INDEX IF NOT EXISTS idx_pending_org ON pending_applications(org_id, state);

	CREATE TABLE IF NOT EXISTS stripe_customers (
		customer_id TEXT PRIMARY KEY,
		org_id      TEXT NOT NULL,
		updated_at  INTEGER NOT NULL
	);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("init billing registry schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity (used for readiness probes).
func (r *Registry) Ping() error {
	return r.db.Ping()
}

// Close closes the underlying database connection.
func (r *Registry) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

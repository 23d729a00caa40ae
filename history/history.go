// Package history keeps a local record of the engines agentdeploy created, so
// resource names can be looked up after the terminal output is gone.
package history

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// DefaultDatabasePath is the default path where the ledger is stored.
var DefaultDatabasePath = ".agentdeploy/deployments.db"

// Ledger is a SQLite-backed deployment record.
type Ledger struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger at dbPath.
func Open(dbPath string) (*Ledger, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, fmt.Errorf("history: failed to open %s: %w", dbPath, err)
	}
	return &Ledger{db: db}, nil
}

// openDB creates the ledger's parent directory and applies the deployments
// schema, which is safe to run against an existing ledger.
func openDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record stores d. A missing ID is generated and a zero CreatedAt is set to
// the current time; both are written back into d.
func (l *Ledger) Record(d *Deployment) error {
	if d.ID == "" {
		id, err := uuid.NewRandom()
		if err != nil {
			return err
		}
		d.ID = id.String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}

	_, err := l.db.Exec(
		`INSERT INTO deployments (id, resource_name, display_name, project, location, package_uri, created_at, deleted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		d.ID, d.ResourceName, d.DisplayName, d.Project, d.Location, d.PackageURI,
		formatTime(d.CreatedAt), nullTime(d.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("history: failed to record %s: %w", d.ResourceName, err)
	}
	return nil
}

// MarkDeleted stamps every live record of resourceName as deleted at the
// given time. It returns ErrDeploymentNotFound if there was nothing to mark.
func (l *Ledger) MarkDeleted(resourceName string, at time.Time) error {
	res, err := l.db.Exec(
		`UPDATE deployments SET deleted_at = ? WHERE resource_name = ? AND deleted_at IS NULL;`,
		formatTime(at), resourceName,
	)
	if err != nil {
		return fmt.Errorf("history: failed to mark %s deleted: %w", resourceName, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrDeploymentNotFound, resourceName)
	}
	return nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

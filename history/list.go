package history

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const selectDeployments = `SELECT id, resource_name, display_name, project, location, package_uri, created_at, deleted_at FROM deployments`

// List returns every recorded deployment, newest first.
func (l *Ledger) List() ([]Deployment, error) {
	rows, err := l.db.Query(selectDeployments + ` ORDER BY created_at DESC;`)
	if err != nil {
		return nil, fmt.Errorf("history: failed to query deployments: %w", err)
	}
	defer rows.Close()

	var deployments []Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: error iterating rows: %w", err)
	}
	return deployments, nil
}

// Latest returns the most recently created deployment that is still live.
func (l *Ledger) Latest() (Deployment, error) {
	row := l.db.QueryRow(selectDeployments + ` WHERE deleted_at IS NULL ORDER BY created_at DESC LIMIT 1;`)
	d, err := scanDeployment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Deployment{}, ErrDeploymentNotFound
	}
	return d, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row scanner) (Deployment, error) {
	var (
		d         Deployment
		createdAt string
		deletedAt sql.NullString
	)
	err := row.Scan(&d.ID, &d.ResourceName, &d.DisplayName, &d.Project, &d.Location, &d.PackageURI, &createdAt, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Deployment{}, err
		}
		return Deployment{}, fmt.Errorf("history: failed to scan deployment: %w", err)
	}

	d.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return Deployment{}, fmt.Errorf("history: failed to parse created_at %q: %w", createdAt, err)
	}
	if deletedAt.Valid {
		t, err := time.Parse(timeLayout, deletedAt.String)
		if err != nil {
			return Deployment{}, fmt.Errorf("history: failed to parse deleted_at %q: %w", deletedAt.String, err)
		}
		d.DeletedAt = &t
	}
	return d, nil
}

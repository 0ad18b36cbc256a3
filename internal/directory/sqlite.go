package directory

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/hsp-payroll/payslip-cli/internal/model"
)

// SQLite serves the employee directory from the embedded database, for
// single-node deployments where profiles are mirrored locally.
type SQLite struct {
	db *sql.DB
}

// NewSQLite creates a directory store over an open database handle.
func NewSQLite(sqlDB *sql.DB) *SQLite {
	return &SQLite{db: sqlDB}
}

func (s *SQLite) ByIdentifier(ctx context.Context, tenantID, identifier string) ([]model.Employee, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+employeeColumns+`
		 FROM employee_profiles
		 WHERE tenant_id = ? AND employee_identifier = ? AND deleted_at IS NULL`,
		tenantID, identifier,
	)
	if err != nil {
		return nil, eris.Wrap(err, "directory: query by identifier")
	}
	defer rows.Close() //nolint:errcheck
	return scanEmployees(rows)
}

func (s *SQLite) ByTenant(ctx context.Context, tenantID string) ([]model.Employee, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+employeeColumns+`
		 FROM employee_profiles
		 WHERE tenant_id = ? AND deleted_at IS NULL
		 ORDER BY name, last_name`,
		tenantID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "directory: query by tenant")
	}
	defer rows.Close() //nolint:errcheck
	return scanEmployees(rows)
}

func (s *SQLite) TenantForProcess(ctx context.Context, processID string) (string, error) {
	var tenantID string
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id FROM processes WHERE id = ?`,
		processID,
	).Scan(&tenantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", eris.Errorf("directory: unknown process %s", processID)
		}
		return "", eris.Wrapf(err, "directory: tenant for process %s", processID)
	}
	return tenantID, nil
}

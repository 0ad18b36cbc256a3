// Package directory reads employee identity records from the tenant
// directory store. The rows are owned by an external system; this package
// never writes them.
package directory

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/hsp-payroll/payslip-cli/internal/db"
	"github.com/hsp-payroll/payslip-cli/internal/model"
)

// Postgres queries employee_profiles through a pgx pool. It satisfies
// match.Directory.
type Postgres struct {
	pool db.Pool
}

// NewPostgres creates a directory store over the given pool.
func NewPostgres(pool db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const employeeColumns = `id, name, last_name, other_name, preferred_name, employee_identifier`

// ByIdentifier does an exact, case-sensitive lookup on the (tenant_id,
// employee_identifier) index. Soft-deleted rows are excluded.
func (p *Postgres) ByIdentifier(ctx context.Context, tenantID, identifier string) ([]model.Employee, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+employeeColumns+`
		 FROM employee_profiles
		 WHERE tenant_id = $1 AND employee_identifier = $2 AND deleted_at IS NULL`,
		tenantID, identifier,
	)
	if err != nil {
		return nil, eris.Wrap(err, "directory: query by identifier")
	}
	defer rows.Close()
	return scanEmployees(rows)
}

// ByTenant returns every active employee of the tenant. The scan is bounded
// by tenant size and feeds in-process name-variant matching.
func (p *Postgres) ByTenant(ctx context.Context, tenantID string) ([]model.Employee, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+employeeColumns+`
		 FROM employee_profiles
		 WHERE tenant_id = $1 AND deleted_at IS NULL
		 ORDER BY name, last_name`,
		tenantID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "directory: query by tenant")
	}
	defer rows.Close()
	return scanEmployees(rows)
}

// TenantForProcess looks up the owning tenant of a payroll process, used when
// the caller does not supply one.
func (p *Postgres) TenantForProcess(ctx context.Context, processID string) (string, error) {
	var tenantID string
	err := p.pool.QueryRow(ctx,
		`SELECT tenant_id FROM processes WHERE id = $1`,
		processID,
	).Scan(&tenantID)
	if err != nil {
		return "", eris.Wrapf(err, "directory: tenant for process %s", processID)
	}
	return tenantID, nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEmployees(rows rowScanner) ([]model.Employee, error) {
	var emps []model.Employee
	for rows.Next() {
		var e model.Employee
		var middle, preferred, identifier *string
		if err := rows.Scan(&e.ID, &e.FirstName, &e.LastName, &middle, &preferred, &identifier); err != nil {
			return nil, eris.Wrap(err, "directory: scan employee")
		}
		if middle != nil {
			e.MiddleName = *middle
		}
		if preferred != nil {
			e.PreferredName = *preferred
		}
		if identifier != nil {
			e.Identifier = *identifier
		}
		emps = append(emps, e)
	}
	return emps, eris.Wrap(rows.Err(), "directory: iterate employees")
}

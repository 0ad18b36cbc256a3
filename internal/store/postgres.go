package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/hsp-payroll/payslip-cli/internal/db"
	"github.com/hsp-payroll/payslip-cli/internal/model"
)

// PostgresStore implements Store using pgxpool. The upsert merge runs inside
// a single INSERT ... ON CONFLICT statement, so the unique key constraint is
// the only concurrency-correctness mechanism needed.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS payslip_matching_results (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id      TEXT NOT NULL,
	process_id     TEXT NOT NULL,
	user_id        TEXT NOT NULL,
	file_reference TEXT NOT NULL,
	extracted_data JSONB NOT NULL DEFAULT '{}'::jsonb,
	match_status   TEXT NOT NULL,
	audit_log      JSONB NOT NULL DEFAULT '{"events":[]}'::jsonb,
	batch_id       TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_matching_results_key
	ON payslip_matching_results(tenant_id, process_id, user_id, file_reference, batch_id);

CREATE INDEX IF NOT EXISTS idx_matching_results_batch
	ON payslip_matching_results(tenant_id, process_id, batch_id, match_status);

CREATE INDEX IF NOT EXISTS idx_matching_results_file_ref
	ON payslip_matching_results(tenant_id, process_id, file_reference, created_at DESC);
`

// Pool exposes the connection pool so other read models (the employee
// directory) can share it.
func (s *PostgresStore) Pool() db.Pool { return s.pool }

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const upsertSQL = `
INSERT INTO payslip_matching_results
	(id, tenant_id, process_id, user_id, file_reference, extracted_data, match_status, audit_log, batch_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (tenant_id, process_id, user_id, file_reference, batch_id)
DO UPDATE SET
	extracted_data = payslip_matching_results.extracted_data || EXCLUDED.extracted_data,
	match_status   = EXCLUDED.match_status,
	audit_log      = jsonb_set(
		COALESCE(payslip_matching_results.audit_log, '{"events":[]}'::jsonb),
		'{events}',
		COALESCE(payslip_matching_results.audit_log->'events', '[]'::jsonb) || (EXCLUDED.audit_log->'events')
	),
	updated_at = now()
RETURNING id`

func (s *PostgresStore) Upsert(ctx context.Context, key model.RecordKey, extracted map[string]any, status model.MatchStatus, events []model.AuditEvent) (string, error) {
	extractedJSON, err := json.Marshal(extracted)
	if err != nil {
		return "", persistenceErr(err, "postgres: marshal extracted data")
	}
	auditJSON, err := json.Marshal(model.AuditLog{Events: events})
	if err != nil {
		return "", persistenceErr(err, "postgres: marshal audit log")
	}

	var recordID string
	err = s.pool.QueryRow(ctx, upsertSQL,
		uuid.New().String(),
		key.TenantID, key.ProcessID, key.UserID, key.FileReference,
		extractedJSON, string(status), auditJSON, key.BatchID,
	).Scan(&recordID)
	if err != nil {
		return "", persistenceErrf(err, "postgres: upsert record for %s", key.FileReference)
	}
	return recordID, nil
}

func (s *PostgresStore) PreservedMetadata(ctx context.Context, tenantID, processID, fileReference string) (map[string]any, error) {
	var extractedJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT extracted_data FROM payslip_matching_results
		 WHERE tenant_id = $1 AND process_id = $2 AND file_reference = $3
		 ORDER BY created_at DESC LIMIT 1`,
		tenantID, processID, fileReference,
	).Scan(&extractedJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, persistenceErr(err, "postgres: get preserved metadata")
	}

	var existing map[string]any
	if err := json.Unmarshal(extractedJSON, &existing); err != nil {
		return nil, persistenceErr(err, "postgres: unmarshal extracted data")
	}

	metadata := make(map[string]any)
	for _, k := range model.PreservedMetadataKeys {
		if v, ok := existing[k]; ok {
			metadata[k] = v
		}
	}
	if len(metadata) == 0 {
		return nil, nil
	}
	return metadata, nil
}

func (s *PostgresStore) ListMatched(ctx context.Context, tenantID, processID, batchID string) ([]model.MatchingRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, process_id, user_id, file_reference, extracted_data, match_status, audit_log, batch_id, created_at, updated_at
		 FROM payslip_matching_results
		 WHERE tenant_id = $1 AND process_id = $2 AND batch_id = $3 AND match_status = $4
		 ORDER BY created_at`,
		tenantID, processID, batchID, string(model.StatusMatched),
	)
	if err != nil {
		return nil, persistenceErr(err, "postgres: list matched")
	}
	defer rows.Close()

	var records []model.MatchingRecord
	for rows.Next() {
		var r model.MatchingRecord
		var extractedJSON, auditJSON []byte
		if err := rows.Scan(&r.ID, &r.TenantID, &r.ProcessID, &r.UserID, &r.FileReference,
			&extractedJSON, &r.MatchStatus, &auditJSON, &r.BatchID, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, persistenceErr(err, "postgres: scan record")
		}
		if err := json.Unmarshal(extractedJSON, &r.ExtractedData); err != nil {
			return nil, persistenceErr(err, "postgres: unmarshal extracted data")
		}
		if err := json.Unmarshal(auditJSON, &r.AuditLog); err != nil {
			return nil, persistenceErr(err, "postgres: unmarshal audit log")
		}
		records = append(records, r)
	}
	return records, persistenceErr(rows.Err(), "postgres: list matched iterate")
}

func (s *PostgresStore) SetCanonicalName(ctx context.Context, recordID, filename string) error {
	filenameJSON, err := json.Marshal(filename)
	if err != nil {
		return persistenceErr(err, "postgres: marshal filename")
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE payslip_matching_results
		 SET extracted_data = jsonb_set(extracted_data, '{matched_filename}', $1::jsonb),
		     updated_at = now()
		 WHERE id = $2
		   AND (extracted_data->>'matched_filename' IS NULL
		        OR extracted_data->>'matched_filename' != $3)`,
		filenameJSON, recordID, filename,
	)
	return persistenceErrf(err, "postgres: set canonical name %s", recordID)
}

func (s *PostgresStore) ApplyRename(ctx context.Context, recordID, newReference, filename string, event model.AuditEvent) error {
	filenameJSON, err := json.Marshal(filename)
	if err != nil {
		return persistenceErr(err, "postgres: marshal filename")
	}
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return persistenceErr(err, "postgres: marshal rename event")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE payslip_matching_results
		 SET file_reference = $1,
		     extracted_data = jsonb_set(extracted_data, '{matched_filename}', $2::jsonb),
		     audit_log = jsonb_set(
		         COALESCE(audit_log, '{"events":[]}'::jsonb),
		         '{events}',
		         COALESCE(audit_log->'events', '[]'::jsonb) || $3::jsonb
		     ),
		     updated_at = now()
		 WHERE id = $4`,
		newReference, filenameJSON, eventJSON, recordID,
	)
	if err != nil {
		return persistenceErrf(err, "postgres: apply rename %s", recordID)
	}
	if tag.RowsAffected() == 0 {
		return &PersistenceError{Err: eris.Errorf("record not found: %s", recordID)}
	}
	return nil
}

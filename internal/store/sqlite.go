package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/hsp-payroll/payslip-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite, for single-node and
// test deployments. SQLite has no jsonb merge operator, so the upsert is an
// explicit read-modify-write inside a transaction. Transactions open
// IMMEDIATE (via _txlock in the DSN): a deferred transaction that reads
// before writing cannot upgrade its snapshot once another writer commits, so
// concurrent upserts on the same key would fail with SQLITE_BUSY instead of
// queueing on the busy handler and merging.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given DSN and configures WAL mode
// and immediate transactions.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if !strings.Contains(dsn, "_txlock=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_txlock=immediate"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS payslip_matching_results (
	id             TEXT PRIMARY KEY,
	tenant_id      TEXT NOT NULL,
	process_id     TEXT NOT NULL,
	user_id        TEXT NOT NULL,
	file_reference TEXT NOT NULL,
	extracted_data TEXT NOT NULL DEFAULT '{}',
	match_status   TEXT NOT NULL,
	audit_log      TEXT NOT NULL DEFAULT '{"events":[]}',
	batch_id       TEXT NOT NULL,
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL,
	UNIQUE(tenant_id, process_id, user_id, file_reference, batch_id)
);

CREATE INDEX IF NOT EXISTS idx_matching_results_batch
	ON payslip_matching_results(tenant_id, process_id, batch_id, match_status);

CREATE INDEX IF NOT EXISTS idx_matching_results_file_ref
	ON payslip_matching_results(tenant_id, process_id, file_reference, created_at);
`

// DB exposes the database handle so other read models (the employee
// directory) can share it.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Upsert(ctx context.Context, key model.RecordKey, extracted map[string]any, status model.MatchStatus, events []model.AuditEvent) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", persistenceErr(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var (
		recordID      string
		extractedJSON string
		auditJSON     string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, extracted_data, audit_log FROM payslip_matching_results
		 WHERE tenant_id = ? AND process_id = ? AND user_id = ? AND file_reference = ? AND batch_id = ?`,
		key.TenantID, key.ProcessID, key.UserID, key.FileReference, key.BatchID,
	).Scan(&recordID, &extractedJSON, &auditJSON)

	now := time.Now().UTC()
	switch {
	case errors.Is(err, sql.ErrNoRows):
		recordID = uuid.New().String()
		newExtracted, mErr := json.Marshal(extracted)
		if mErr != nil {
			return "", persistenceErr(mErr, "sqlite: marshal extracted data")
		}
		newAudit, mErr := json.Marshal(model.AuditLog{Events: events})
		if mErr != nil {
			return "", persistenceErr(mErr, "sqlite: marshal audit log")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO payslip_matching_results
			 (id, tenant_id, process_id, user_id, file_reference, extracted_data, match_status, audit_log, batch_id, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			recordID, key.TenantID, key.ProcessID, key.UserID, key.FileReference,
			string(newExtracted), string(status), string(newAudit), key.BatchID, now, now,
		)
		if err != nil {
			return "", persistenceErrf(err, "sqlite: insert record for %s", key.FileReference)
		}
	case err != nil:
		return "", persistenceErr(err, "sqlite: select existing record")
	default:
		var existing map[string]any
		if uErr := json.Unmarshal([]byte(extractedJSON), &existing); uErr != nil {
			return "", persistenceErr(uErr, "sqlite: unmarshal extracted data")
		}
		var log model.AuditLog
		if uErr := json.Unmarshal([]byte(auditJSON), &log); uErr != nil {
			return "", persistenceErr(uErr, "sqlite: unmarshal audit log")
		}

		mergedExtracted, mErr := json.Marshal(MergeExtracted(existing, extracted))
		if mErr != nil {
			return "", persistenceErr(mErr, "sqlite: marshal merged data")
		}
		mergedAudit, mErr := json.Marshal(AppendEvents(log, events...))
		if mErr != nil {
			return "", persistenceErr(mErr, "sqlite: marshal merged audit log")
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE payslip_matching_results
			 SET extracted_data = ?, match_status = ?, audit_log = ?, updated_at = ?
			 WHERE id = ?`,
			string(mergedExtracted), string(status), string(mergedAudit), now, recordID,
		)
		if err != nil {
			return "", persistenceErrf(err, "sqlite: update record %s", recordID)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", persistenceErr(err, "sqlite: commit upsert")
	}
	return recordID, nil
}

func (s *SQLiteStore) PreservedMetadata(ctx context.Context, tenantID, processID, fileReference string) (map[string]any, error) {
	var extractedJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT extracted_data FROM payslip_matching_results
		 WHERE tenant_id = ? AND process_id = ? AND file_reference = ?
		 ORDER BY created_at DESC LIMIT 1`,
		tenantID, processID, fileReference,
	).Scan(&extractedJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, persistenceErr(err, "sqlite: get preserved metadata")
	}

	var existing map[string]any
	if err := json.Unmarshal([]byte(extractedJSON), &existing); err != nil {
		return nil, persistenceErr(err, "sqlite: unmarshal extracted data")
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

func (s *SQLiteStore) ListMatched(ctx context.Context, tenantID, processID, batchID string) ([]model.MatchingRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, process_id, user_id, file_reference, extracted_data, match_status, audit_log, batch_id, created_at, updated_at
		 FROM payslip_matching_results
		 WHERE tenant_id = ? AND process_id = ? AND batch_id = ? AND match_status = ?
		 ORDER BY created_at`,
		tenantID, processID, batchID, string(model.StatusMatched),
	)
	if err != nil {
		return nil, persistenceErr(err, "sqlite: list matched")
	}
	defer rows.Close()

	var records []model.MatchingRecord
	for rows.Next() {
		var r model.MatchingRecord
		var extractedJSON, auditJSON string
		if err := rows.Scan(&r.ID, &r.TenantID, &r.ProcessID, &r.UserID, &r.FileReference,
			&extractedJSON, &r.MatchStatus, &auditJSON, &r.BatchID, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, persistenceErr(err, "sqlite: scan record")
		}
		if err := json.Unmarshal([]byte(extractedJSON), &r.ExtractedData); err != nil {
			return nil, persistenceErr(err, "sqlite: unmarshal extracted data")
		}
		if err := json.Unmarshal([]byte(auditJSON), &r.AuditLog); err != nil {
			return nil, persistenceErr(err, "sqlite: unmarshal audit log")
		}
		records = append(records, r)
	}
	return records, persistenceErr(rows.Err(), "sqlite: list matched iterate")
}

func (s *SQLiteStore) SetCanonicalName(ctx context.Context, recordID, filename string) error {
	return s.mutateRecord(ctx, recordID, func(r *recordState) bool {
		if current, _ := r.extracted["matched_filename"].(string); current == filename {
			return false
		}
		r.extracted["matched_filename"] = filename
		return true
	})
}

func (s *SQLiteStore) ApplyRename(ctx context.Context, recordID, newReference, filename string, event model.AuditEvent) error {
	return s.mutateRecord(ctx, recordID, func(r *recordState) bool {
		r.fileReference = newReference
		r.extracted["matched_filename"] = filename
		r.log = AppendEvents(r.log, event)
		return true
	})
}

type recordState struct {
	fileReference string
	extracted     map[string]any
	log           model.AuditLog
}

// mutateRecord loads a record, applies fn, and writes it back in one
// transaction. fn returning false leaves the row untouched.
func (s *SQLiteStore) mutateRecord(ctx context.Context, recordID string, fn func(*recordState) bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistenceErr(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var (
		state         recordState
		extractedJSON string
		auditJSON     string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT file_reference, extracted_data, audit_log FROM payslip_matching_results WHERE id = ?`,
		recordID,
	).Scan(&state.fileReference, &extractedJSON, &auditJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &PersistenceError{Err: eris.Errorf("record not found: %s", recordID)}
		}
		return persistenceErrf(err, "sqlite: load record %s", recordID)
	}
	if err := json.Unmarshal([]byte(extractedJSON), &state.extracted); err != nil {
		return persistenceErr(err, "sqlite: unmarshal extracted data")
	}
	if err := json.Unmarshal([]byte(auditJSON), &state.log); err != nil {
		return persistenceErr(err, "sqlite: unmarshal audit log")
	}
	if state.extracted == nil {
		state.extracted = make(map[string]any)
	}

	if !fn(&state) {
		return tx.Commit()
	}

	newExtracted, err := json.Marshal(state.extracted)
	if err != nil {
		return persistenceErr(err, "sqlite: marshal extracted data")
	}
	newAudit, err := json.Marshal(state.log)
	if err != nil {
		return persistenceErr(err, "sqlite: marshal audit log")
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE payslip_matching_results
		 SET file_reference = ?, extracted_data = ?, audit_log = ?, updated_at = ?
		 WHERE id = ?`,
		state.fileReference, string(newExtracted), string(newAudit), time.Now().UTC(), recordID,
	)
	if err != nil {
		return persistenceErrf(err, "sqlite: update record %s", recordID)
	}
	return persistenceErr(tx.Commit(), "sqlite: commit update")
}

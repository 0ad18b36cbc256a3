// Package store persists payslip matching records. One record exists per
// (tenant, process, user, file_reference, batch) key; reprocessing the same
// document merges extracted data and appends audit events instead of
// duplicating rows.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/hsp-payroll/payslip-cli/internal/model"
)

// Store is the persistence interface for matching records.
type Store interface {
	// Upsert inserts a record for the key, or on conflict merges extracted
	// data (incoming keys win), overwrites the match status, and appends the
	// audit events. Returns the record ID.
	Upsert(ctx context.Context, key model.RecordKey, extracted map[string]any, status model.MatchStatus, events []model.AuditEvent) (string, error)

	// PreservedMetadata returns the metadata keys of the most recent record
	// for the clean file reference that must survive reprocessing (file size,
	// externally supplied payslip ID, original filename). Nil when no prior
	// record exists.
	PreservedMetadata(ctx context.Context, tenantID, processID, fileReference string) (map[string]any, error)

	// ListMatched returns the batch's records with match_status = matched in
	// creation order, for the relocation pass.
	ListMatched(ctx context.Context, tenantID, processID, batchID string) ([]model.MatchingRecord, error)

	// SetCanonicalName records the canonical filename in extracted metadata
	// without touching the file reference. Idempotent: a record already
	// carrying the name is left untouched.
	SetCanonicalName(ctx context.Context, recordID, filename string) error

	// ApplyRename updates the file reference after a physical relocation,
	// records the canonical filename, and appends the rename audit event.
	ApplyRename(ctx context.Context, recordID, newReference, filename string, event model.AuditEvent) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// PersistenceError marks a storage transaction failure. The orchestrator
// treats it as a per-document failure, never as a batch abort.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return e.Err.Error() }

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistenceErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Err: eris.Wrap(err, msg)}
}

func persistenceErrf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Err: eris.Wrapf(err, format, args...)}
}

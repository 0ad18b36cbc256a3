package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hsp-payroll/payslip-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func testKey() model.RecordKey {
	return model.RecordKey{
		TenantID:      "tenant-1",
		ProcessID:     "process-1",
		UserID:        "user-1",
		FileReference: "https://storage.example.com/payslips/doc.pdf",
		BatchID:       "batch-1",
	}
}

func TestPostgresStore_Upsert_ReturnsRecordID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`ON CONFLICT \(tenant_id, process_id, user_id, file_reference, batch_id\)`).
		WithArgs(pgxmock.AnyArg(), "tenant-1", "process-1", "user-1",
			"https://storage.example.com/payslips/doc.pdf",
			pgxmock.AnyArg(), string(model.StatusMatched), pgxmock.AnyArg(), "batch-1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("rec-42"))

	id, err := s.Upsert(context.Background(), testKey(),
		map[string]any{"employee_name": "Jane Doe"},
		model.StatusMatched,
		[]model.AuditEvent{{Action: model.ActionInitialMatch, Status: string(model.StatusMatched)}},
	)
	require.NoError(t, err)
	assert.Equal(t, "rec-42", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Upsert_WrapsQueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO payslip_matching_results`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(assert.AnError)

	_, err := s.Upsert(context.Background(), testKey(), nil, model.StatusNoMatch, nil)
	require.Error(t, err)

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, err.Error(), "upsert record")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PreservedMetadata_FiltersKeys(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	stored, err := json.Marshal(map[string]any{
		"fileSize":          "20000",
		"payslipId":         "ps-9",
		"original_filename": "scan.pdf",
		"employee_name":     "Jane Doe",
	})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT extracted_data FROM payslip_matching_results`).
		WithArgs("tenant-1", "process-1", "file-ref").
		WillReturnRows(pgxmock.NewRows([]string{"extracted_data"}).AddRow(stored))

	metadata, err := s.PreservedMetadata(context.Background(), "tenant-1", "process-1", "file-ref")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"fileSize":          "20000",
		"payslipId":         "ps-9",
		"original_filename": "scan.pdf",
	}, metadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PreservedMetadata_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT extracted_data FROM payslip_matching_results`).
		WithArgs("tenant-1", "process-1", "missing").
		WillReturnError(pgx.ErrNoRows)

	metadata, err := s.PreservedMetadata(context.Background(), "tenant-1", "process-1", "missing")
	require.NoError(t, err)
	assert.Nil(t, metadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListMatched(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	extracted := []byte(`{"employee_name":"Jane Doe"}`)
	audit := []byte(`{"events":[]}`)

	mock.ExpectQuery(`WHERE tenant_id = \$1 AND process_id = \$2 AND batch_id = \$3 AND match_status = \$4`).
		WithArgs("tenant-1", "process-1", "batch-1", string(model.StatusMatched)).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "tenant_id", "process_id", "user_id", "file_reference",
			"extracted_data", "match_status", "audit_log", "batch_id", "created_at", "updated_at",
		}).AddRow("rec-1", "tenant-1", "process-1", "user-1", "file-a",
			extracted, string(model.StatusMatched), audit, "batch-1", now, now))

	records, err := s.ListMatched(context.Background(), "tenant-1", "process-1", "batch-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "rec-1", records[0].ID)
	assert.Equal(t, model.StatusMatched, records[0].MatchStatus)
	assert.Equal(t, "Jane Doe", records[0].ExtractedData["employee_name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyRename_RecordNotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE payslip_matching_results`).
		WithArgs("new-ref", pgxmock.AnyArg(), pgxmock.AnyArg(), "missing-id").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.ApplyRename(context.Background(), "missing-id", "new-ref", "PS_Jane_Doe_2025-06-30.pdf",
		model.AuditEvent{Action: model.ActionFileRenamed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetCanonicalName(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SET extracted_data = jsonb_set`).
		WithArgs(pgxmock.AnyArg(), "rec-1", "PS_Jane_Doe_2025-06-30.pdf").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.SetCanonicalName(context.Background(), "rec-1", "PS_Jane_Doe_2025-06-30.pdf")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

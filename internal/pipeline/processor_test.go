package pipeline

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hsp-payroll/payslip-cli/internal/match"
	"github.com/hsp-payroll/payslip-cli/internal/model"
)

func testScope() Scope {
	return Scope{
		TenantID:  "tenant-1",
		ProcessID: "process-1",
		UserID:    "user-1",
		BatchID:   "batch-1",
	}
}

func testEmployees() []model.Employee {
	return []model.Employee{
		{ID: "emp-1", FirstName: "Jane", LastName: "Doe", Identifier: "E100"},
		{ID: "emp-2", FirstName: "John", LastName: "Smith", Identifier: "E200"},
	}
}

func newTestProcessor(extractor *fakeExtractor, st *memoryStore) *Processor {
	resolver := match.NewResolver(&fakeDirectory{employees: testEmployees()})
	return NewProcessor(testScope(), extractor, resolver, st, ProcessorOptions{})
}

func TestProcessor_Process_Matched(t *testing.T) {
	docURL := "https://storage.googleapis.com/payslips/tenant-1/doc.pdf"
	st := newMemoryStore()
	proc := newTestProcessor(&fakeExtractor{
		fields: map[string]model.ExtractedFields{docURL: fieldsWithName("Jane Doe")},
	}, st)

	outcome := proc.Process(context.Background(), docURL)

	require.NoError(t, outcome.Err)
	assert.Equal(t, model.StatusMatched, outcome.Status)
	assert.NotEmpty(t, outcome.RecordID)

	record := st.byID(outcome.RecordID)
	require.NotNil(t, record)
	assert.Equal(t, model.StatusMatched, record.MatchStatus)
	assert.Equal(t, "Jane Doe", record.ExtractedData[model.FieldEmployeeName])

	require.Len(t, record.AuditLog.Events, 1)
	event := record.AuditLog.Events[0]
	assert.Equal(t, model.ActionInitialMatch, event.Action)
	assert.Equal(t, string(model.StatusMatched), event.Status)
	assert.Equal(t, "user-1", event.UserID)
	assert.Contains(t, event.PerformanceMetrics, "total_time_seconds")
}

func TestProcessor_Process_NoMatch(t *testing.T) {
	docURL := "https://storage.googleapis.com/payslips/tenant-1/doc.pdf"
	proc := newTestProcessor(&fakeExtractor{
		fields: map[string]model.ExtractedFields{docURL: fieldsWithName("Nobody Known")},
	}, newMemoryStore())

	outcome := proc.Process(context.Background(), docURL)
	require.NoError(t, outcome.Err)
	assert.Equal(t, model.StatusNoMatch, outcome.Status)
}

func TestProcessor_Process_ExtractionFailedStatus(t *testing.T) {
	// Extraction succeeded but produced neither a name nor an identifier.
	docURL := "https://storage.googleapis.com/payslips/tenant-1/blank.pdf"
	proc := newTestProcessor(&fakeExtractor{}, newMemoryStore())

	outcome := proc.Process(context.Background(), docURL)
	require.NoError(t, outcome.Err)
	assert.Equal(t, model.StatusExtractionFailed, outcome.Status)
}

func TestProcessor_Process_ExtractorErrorIsFailure(t *testing.T) {
	docURL := "https://storage.googleapis.com/payslips/tenant-1/broken.pdf"
	st := newMemoryStore()
	proc := newTestProcessor(&fakeExtractor{
		failWith: map[string]error{docURL: eris.New("analysis unavailable")},
	}, st)

	outcome := proc.Process(context.Background(), docURL)
	require.Error(t, outcome.Err)
	assert.Contains(t, outcome.ErrMsg, "analysis unavailable")
	assert.Empty(t, outcome.RecordID)
	assert.Empty(t, st.records)
}

func TestProcessor_Process_MergesPreservedMetadata(t *testing.T) {
	docURL := "https://storage.googleapis.com/payslips/tenant-1/doc.pdf"
	st := newMemoryStore()

	// An earlier batch stored externally supplied metadata for this file.
	earlier := testScope()
	earlier.BatchID = "batch-0"
	_, err := st.Upsert(context.Background(), earlier.Key(docURL),
		map[string]any{"payslipId": "ps-77", "fileSize": "1234"},
		model.StatusNoMatch, nil)
	require.NoError(t, err)

	proc := newTestProcessor(&fakeExtractor{
		fields: map[string]model.ExtractedFields{docURL: fieldsWithName("Jane Doe")},
	}, st)

	outcome := proc.Process(context.Background(), docURL)
	require.NoError(t, outcome.Err)

	record := st.byID(outcome.RecordID)
	require.NotNil(t, record)
	assert.Equal(t, "ps-77", record.ExtractedData["payslipId"])
	assert.Equal(t, "Jane Doe", record.ExtractedData[model.FieldEmployeeName])
}

func TestProcessor_Process_UnparseableURLFailureRedactsCredential(t *testing.T) {
	// CleanRef rejects the URL, so the failure outcome can only carry the raw
	// reference; the signed credential must be stripped from it.
	rawURL := "https://storage bad host/payslips/doc.pdf?X-Goog-Signature=secret"
	proc := newTestProcessor(&fakeExtractor{}, newMemoryStore())

	outcome := proc.Process(context.Background(), rawURL)
	require.Error(t, outcome.Err)
	assert.NotContains(t, outcome.File, "secret")
	assert.NotContains(t, outcome.File, "?")
	assert.NotContains(t, outcome.ErrMsg, "secret")
}

func TestProcessor_Process_NormalizesReference(t *testing.T) {
	rawURL := "https://storage.googleapis.com/payslips/tenant-1/June%20Payslip.pdf?se=2025-07-01T00%3A00%3A00Z&sig=abc"
	st := newMemoryStore()
	proc := newTestProcessor(&fakeExtractor{
		fields: map[string]model.ExtractedFields{rawURL: fieldsWithName("Jane Doe")},
	}, st)

	outcome := proc.Process(context.Background(), rawURL)
	require.NoError(t, outcome.Err)
	assert.Equal(t, "https://storage.googleapis.com/payslips/tenant-1/June%20Payslip.pdf", outcome.File)

	record := st.byID(outcome.RecordID)
	require.NotNil(t, record)
	assert.Equal(t, outcome.File, record.FileReference)
}

package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hsp-payroll/payslip-cli/internal/blob"
	"github.com/hsp-payroll/payslip-cli/internal/model"
	"github.com/hsp-payroll/payslip-cli/internal/notify"
)

func newTestRunner(extractor *fakeExtractor, st *memoryStore, opts RunnerOptions) *Runner {
	return NewRunner(testScope(), newTestProcessor(extractor, st), st, opts)
}

func docRef(name string) string {
	return "https://storage.googleapis.com/payslips/tenant-1/" + name
}

func TestRunner_Run_FailureIsolation(t *testing.T) {
	refs := []string{docRef("a.pdf"), docRef("b.pdf"), docRef("c.pdf")}
	st := newMemoryStore()
	runner := newTestRunner(&fakeExtractor{
		fields: map[string]model.ExtractedFields{
			refs[0]: fieldsWithName("Jane Doe"),
			refs[2]: fieldsWithName("John Smith"),
		},
		failWith: map[string]error{refs[1]: eris.New("analysis unavailable")},
	}, st, RunnerOptions{Concurrency: 2})

	summary, err := runner.Run(context.Background(), refs)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 2, summary.ByStatus[model.StatusMatched])
	require.Len(t, summary.FailedDocs, 1)
	assert.Equal(t, docRef("b.pdf"), summary.FailedDocs[0].File)
	assert.Len(t, st.records, 2)
}

func TestRunner_Run_StoreUnreachableIsFatal(t *testing.T) {
	st := newMemoryStore()
	st.pingErr = eris.New("connection refused")
	runner := newTestRunner(&fakeExtractor{}, st, RunnerOptions{})

	_, err := runner.Run(context.Background(), []string{docRef("a.pdf")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unreachable")
}

func TestRunner_Run_NotifiesOnceOnSuccess(t *testing.T) {
	var calls atomic.Int32
	var payload notify.Completion
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
	}))
	defer srv.Close()

	refs := []string{docRef("a.pdf"), docRef("b.pdf")}
	runner := newTestRunner(&fakeExtractor{
		fields: map[string]model.ExtractedFields{
			refs[0]: fieldsWithName("Jane Doe"),
			refs[1]: fieldsWithName("John Smith"),
		},
	}, newMemoryStore(), RunnerOptions{Notifier: notify.New(srv.URL, "key")})

	_, err := runner.Run(context.Background(), refs)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, notify.NotificationType, payload.Type)
	assert.Equal(t, "batch-1", payload.BatchID)
	assert.Equal(t, 2, payload.Succeeded)
}

func TestRunner_Run_NoNotificationWhenAllFail(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	ref := docRef("a.pdf")
	runner := newTestRunner(&fakeExtractor{
		failWith: map[string]error{ref: eris.New("analysis unavailable")},
	}, newMemoryStore(), RunnerOptions{Notifier: notify.New(srv.URL, "key")})

	summary, err := runner.Run(context.Background(), []string{ref})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Zero(t, calls.Load())
}

func TestRunner_Run_SplitModePersistsSourceRecord(t *testing.T) {
	original := docRef("june.pdf")
	pageRefs := []blob.Ref{
		{Bucket: "payslips", Object: "tenant-1/june_page_1.pdf"},
		{Bucket: "payslips", Object: "tenant-1/june_page_2.pdf"},
	}

	st := newMemoryStore()
	runner := newTestRunner(&fakeExtractor{
		fields: map[string]model.ExtractedFields{
			pageRefs[0].URL(): fieldsWithName("Jane Doe"),
			pageRefs[1].URL(): fieldsWithName("John Smith"),
		},
	}, st, RunnerOptions{
		Splitter: &fakeSplitter{pages: map[string][]blob.Ref{"tenant-1/june.pdf": pageRefs}},
	})

	summary, err := runner.Run(context.Background(), []string{original})
	require.NoError(t, err)

	// The two pages were processed, not the original.
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)

	// The original survives as an audit-only source record, excluded from
	// matching output.
	source, ok := st.records[testScope().Key(original)]
	require.True(t, ok)
	assert.Equal(t, model.StatusSource, source.MatchStatus)
	require.Len(t, source.AuditLog.Events, 1)
	assert.Equal(t, model.ActionSourceFileSaved, source.AuditLog.Events[0].Action)

	matched, err := st.ListMatched(context.Background(), "tenant-1", "process-1", "batch-1")
	require.NoError(t, err)
	assert.Len(t, matched, 2)
}

func TestRunner_Run_SplitFailureFallsBackToOriginal(t *testing.T) {
	original := docRef("stubborn.pdf")
	st := newMemoryStore()
	runner := newTestRunner(&fakeExtractor{
		fields: map[string]model.ExtractedFields{original: fieldsWithName("Jane Doe")},
	}, st, RunnerOptions{
		Splitter: &fakeSplitter{err: eris.New("encrypted document")},
	})

	summary, err := runner.Run(context.Background(), []string{original})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, model.StatusMatched, summary.Outcomes[0].Status)
}

func TestNewBatchID(t *testing.T) {
	assert.Equal(t, "batch-7", NewBatchID("batch-7"))
	generated := NewBatchID("")
	assert.NotEmpty(t, generated)
	assert.NotEqual(t, generated, NewBatchID(""))
}

package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/hsp-payroll/payslip-cli/internal/blob"
	"github.com/hsp-payroll/payslip-cli/internal/model"
	"github.com/hsp-payroll/payslip-cli/internal/store"
)

// fakeExtractor returns canned fields per document URL and fails for URLs in
// failWith.
type fakeExtractor struct {
	mu       sync.Mutex
	fields   map[string]model.ExtractedFields
	failWith map[string]error
	calls    []string
}

func (f *fakeExtractor) Extract(ctx context.Context, documentURL string) (model.ExtractedFields, error) {
	f.mu.Lock()
	f.calls = append(f.calls, documentURL)
	f.mu.Unlock()

	if err, ok := f.failWith[documentURL]; ok {
		return nil, err
	}
	if fields, ok := f.fields[documentURL]; ok {
		return fields, nil
	}
	return model.NewExtractedFields(), nil
}

func fieldsWithName(name string) model.ExtractedFields {
	fields := model.NewExtractedFields()
	fields[model.FieldEmployeeName] = model.FieldValue{Value: &name, Confidence: 0.95}
	return fields
}

// fakeDirectory serves a fixed employee list for one tenant.
type fakeDirectory struct {
	employees []model.Employee
}

func (d *fakeDirectory) ByIdentifier(ctx context.Context, tenantID, identifier string) ([]model.Employee, error) {
	var found []model.Employee
	for _, e := range d.employees {
		if e.Identifier == identifier {
			found = append(found, e)
		}
	}
	return found, nil
}

func (d *fakeDirectory) ByTenant(ctx context.Context, tenantID string) ([]model.Employee, error) {
	return d.employees, nil
}

// memoryStore is an in-memory store.Store with the same merge semantics as
// the real backends.
type memoryStore struct {
	mu      sync.Mutex
	nextID  int
	records map[model.RecordKey]*model.MatchingRecord
	pingErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[model.RecordKey]*model.MatchingRecord)}
}

func (m *memoryStore) Upsert(ctx context.Context, key model.RecordKey, extracted map[string]any, status model.MatchStatus, events []model.AuditEvent) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.records[key]; ok {
		r.ExtractedData = store.MergeExtracted(r.ExtractedData, extracted)
		r.MatchStatus = status
		r.AuditLog = store.AppendEvents(r.AuditLog, events...)
		return r.ID, nil
	}

	m.nextID++
	r := &model.MatchingRecord{
		ID:            fmt.Sprintf("rec-%d", m.nextID),
		TenantID:      key.TenantID,
		ProcessID:     key.ProcessID,
		UserID:        key.UserID,
		FileReference: key.FileReference,
		ExtractedData: store.MergeExtracted(nil, extracted),
		MatchStatus:   status,
		AuditLog:      store.AppendEvents(model.AuditLog{}, events...),
		BatchID:       key.BatchID,
	}
	m.records[key] = r
	return r.ID, nil
}

func (m *memoryStore) PreservedMetadata(ctx context.Context, tenantID, processID, fileReference string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, r := range m.records {
		if key.TenantID != tenantID || key.ProcessID != processID || key.FileReference != fileReference {
			continue
		}
		metadata := make(map[string]any)
		for _, k := range model.PreservedMetadataKeys {
			if v, ok := r.ExtractedData[k]; ok {
				metadata[k] = v
			}
		}
		if len(metadata) == 0 {
			return nil, nil
		}
		return metadata, nil
	}
	return nil, nil
}

func (m *memoryStore) ListMatched(ctx context.Context, tenantID, processID, batchID string) ([]model.MatchingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var records []model.MatchingRecord
	for i := 1; i <= m.nextID; i++ {
		id := fmt.Sprintf("rec-%d", i)
		for key, r := range m.records {
			if r.ID == id && key.TenantID == tenantID && key.ProcessID == processID &&
				key.BatchID == batchID && r.MatchStatus == model.StatusMatched {
				records = append(records, *r)
			}
		}
	}
	return records, nil
}

func (m *memoryStore) SetCanonicalName(ctx context.Context, recordID, filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.records {
		if r.ID == recordID {
			r.ExtractedData["matched_filename"] = filename
			return nil
		}
	}
	return eris.Errorf("record not found: %s", recordID)
}

func (m *memoryStore) ApplyRename(ctx context.Context, recordID, newReference, filename string, event model.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.records {
		if r.ID == recordID {
			r.FileReference = newReference
			r.ExtractedData["matched_filename"] = filename
			r.AuditLog = store.AppendEvents(r.AuditLog, event)
			return nil
		}
	}
	return eris.Errorf("record not found: %s", recordID)
}

func (m *memoryStore) byID(recordID string) *model.MatchingRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == recordID {
			return r
		}
	}
	return nil
}

func (m *memoryStore) Migrate(ctx context.Context) error { return nil }

func (m *memoryStore) Ping(ctx context.Context) error { return m.pingErr }

func (m *memoryStore) Close() error { return nil }

// fakeSplitter splits configured objects into a fixed page list.
type fakeSplitter struct {
	pages map[string][]blob.Ref
	err   error
}

func (s *fakeSplitter) Split(ctx context.Context, ref blob.Ref) ([]blob.Ref, int, error) {
	if s.err != nil {
		return nil, 0, s.err
	}
	pages := s.pages[ref.Object]
	if len(pages) == 0 {
		return nil, 1, nil
	}
	return pages, len(pages), nil
}

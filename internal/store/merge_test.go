package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hsp-payroll/payslip-cli/internal/model"
)

func TestMergeExtracted(t *testing.T) {
	existing := map[string]any{
		"employee_name": "Jane Doe",
		"fileSize":      "20000",
	}
	incoming := map[string]any{
		"employee_name":       "Jane A Doe",
		"pay_period_end_date": "2025-06-30",
	}

	merged := MergeExtracted(existing, incoming)

	assert.Equal(t, "Jane A Doe", merged["employee_name"], "incoming values win")
	assert.Equal(t, "20000", merged["fileSize"], "existing keys survive")
	assert.Equal(t, "2025-06-30", merged["pay_period_end_date"])

	// Inputs are not mutated.
	assert.Equal(t, "Jane Doe", existing["employee_name"])
	assert.NotContains(t, incoming, "fileSize")
}

func TestMergeExtracted_NilInputs(t *testing.T) {
	assert.Equal(t, map[string]any{"a": "1"}, MergeExtracted(nil, map[string]any{"a": "1"}))
	assert.Equal(t, map[string]any{"a": "1"}, MergeExtracted(map[string]any{"a": "1"}, nil))
	assert.Empty(t, MergeExtracted(nil, nil))
}

func TestAppendEvents(t *testing.T) {
	first := model.AuditEvent{Timestamp: time.Now().UTC(), Action: model.ActionInitialMatch}
	second := model.AuditEvent{Timestamp: time.Now().UTC(), Action: model.ActionFileRenamed}

	log := AppendEvents(model.AuditLog{}, first)
	log = AppendEvents(log, second)

	assert.Len(t, log.Events, 2)
	assert.Equal(t, model.ActionInitialMatch, log.Events[0].Action)
	assert.Equal(t, model.ActionFileRenamed, log.Events[1].Action)
}

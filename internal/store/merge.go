package store

import "github.com/hsp-payroll/payslip-cli/internal/model"

// MergeExtracted performs the shallow map union used on upsert conflicts:
// incoming keys overwrite existing keys of the same name, all other existing
// keys are preserved. Neither input is mutated. The merge is commutative on
// disjoint keys, which makes last-committer-wins safe under concurrent
// upserts of the same record.
func MergeExtracted(existing, incoming map[string]any) map[string]any {
	merged := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return merged
}

// AppendEvents returns a log with the new events appended after the existing
// ones. Prior entries are never reordered or dropped.
func AppendEvents(log model.AuditLog, events ...model.AuditEvent) model.AuditLog {
	out := model.AuditLog{Events: make([]model.AuditEvent, 0, len(log.Events)+len(events))}
	out.Events = append(out.Events, log.Events...)
	out.Events = append(out.Events, events...)
	return out
}

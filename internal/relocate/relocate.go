// Package relocate renames matched payslip objects to their canonical
// filenames after a batch completes.
package relocate

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/hsp-payroll/payslip-cli/internal/blob"
	"github.com/hsp-payroll/payslip-cli/internal/model"
	"github.com/hsp-payroll/payslip-cli/internal/resilience"
	"github.com/hsp-payroll/payslip-cli/internal/store"
)

// relocationState tracks how far a single file got through the rename. The
// old object is deleted only after the copy is verified and its metadata
// propagated.
type relocationState string

const (
	statePending         relocationState = "pending"
	stateCopied          relocationState = "copied"
	stateVerified        relocationState = "verified"
	stateMetadataUpdated relocationState = "metadata_updated"
	stateOldDeleted      relocationState = "old_deleted"
)

// Relocator renames the batch's matched documents in place.
type Relocator struct {
	store store.Store
	blobs blob.Store
	retry resilience.Policy
}

// New creates a Relocator. The retry policy applies to the storage copy.
func New(st store.Store, blobs blob.Store) *Relocator {
	return &Relocator{store: st, blobs: blobs, retry: resilience.DefaultPolicy()}
}

// Run relocates every matched record of the batch and returns the number of
// physically renamed files. A single file failing logs and continues; only a
// failed record query aborts.
func (r *Relocator) Run(ctx context.Context, tenantID, processID, batchID string) (int, error) {
	records, err := r.store.ListMatched(ctx, tenantID, processID, batchID)
	if err != nil {
		return 0, eris.Wrap(err, "relocate: list matched records")
	}
	if len(records) == 0 {
		return 0, nil
	}

	sequences := assignSequences(records)

	renamed := 0
	for i, record := range records {
		filename := canonicalFilename(record, sequences[i])
		moved, err := r.relocateOne(ctx, record, filename)
		if err != nil {
			zap.L().Error("relocation failed, continuing with next file",
				zap.String("record_id", record.ID),
				zap.String("file", record.FileReference),
				zap.Error(err),
			)
			continue
		}
		if moved {
			renamed++
		}
	}

	zap.L().Info("relocation complete",
		zap.String("batch_id", batchID),
		zap.Int("matched", len(records)),
		zap.Int("renamed", renamed),
	)
	return renamed, nil
}

// groupKey buckets records that will share a canonical name stem and
// therefore need sequence numbers. A stable employee identifier beats the
// extracted name, pay cycle beats payment date.
type groupKey struct {
	who    string
	period string
}

func keyOf(record model.MatchingRecord) groupKey {
	who := stringField(record.ExtractedData, model.FieldEmployeeID)
	if who == "" {
		who = stringField(record.ExtractedData, model.FieldEmployeeName)
	}
	if who == "" {
		who = "unknown"
	}
	period := periodOf(record)
	if period == "" {
		period = "unknown"
	}
	return groupKey{who: who, period: period}
}

func periodOf(record model.MatchingRecord) string {
	if cycle := stringField(record.ExtractedData, model.FieldPayCycle); cycle != "" {
		return cycle
	}
	return stringField(record.ExtractedData, model.FieldPaymentDate)
}

// assignSequences returns the 1-based sequence number per record, 0 for
// records whose group has a single member. Records arrive in creation order,
// which fixes the numbering.
func assignSequences(records []model.MatchingRecord) []int {
	sizes := make(map[groupKey]int, len(records))
	for _, record := range records {
		sizes[keyOf(record)]++
	}

	seen := make(map[groupKey]int, len(sizes))
	sequences := make([]int, len(records))
	for i, record := range records {
		key := keyOf(record)
		if sizes[key] <= 1 {
			continue
		}
		seen[key]++
		sequences[i] = seen[key]
	}
	return sequences
}

func canonicalFilename(record model.MatchingRecord, sequence int) string {
	who := stringField(record.ExtractedData, model.FieldEmployeeName)
	if who == "" {
		if id := stringField(record.ExtractedData, model.FieldEmployeeID); id != "" {
			who = "EmpID_" + id
		}
	}
	return Filename(who, periodOf(record), sequence)
}

// relocateOne renames a single object, returning whether a physical move
// happened. A record already carrying the canonical name only gets its
// metadata refreshed.
func (r *Relocator) relocateOne(ctx context.Context, record model.MatchingRecord, filename string) (bool, error) {
	src, err := blob.ParseRef(record.FileReference)
	if err != nil {
		return false, err
	}

	if src.Base() == filename {
		if err := r.store.SetCanonicalName(ctx, record.ID, filename); err != nil {
			return false, err
		}
		zap.L().Debug("file already carries canonical name",
			zap.String("record_id", record.ID),
			zap.String("filename", filename),
		)
		return false, nil
	}

	dst := src.Sibling(filename)
	state := statePending

	props, err := r.blobs.Properties(ctx, src)
	if err != nil {
		return false, eris.Wrapf(err, "relocate: read source properties (%s)", state)
	}

	err = resilience.Do(ctx, r.retry, "blob copy", func(ctx context.Context) error {
		return r.blobs.Copy(ctx, src, dst)
	})
	if err != nil {
		return false, eris.Wrapf(err, "relocate: copy object (%s)", state)
	}
	state = stateCopied

	if _, err := r.blobs.Properties(ctx, dst); err != nil {
		return false, eris.Wrapf(err, "relocate: verify copy (%s)", state)
	}
	state = stateVerified

	if props.ContentType != "" {
		if err := r.blobs.SetContentType(ctx, dst, props.ContentType); err != nil {
			return false, eris.Wrapf(err, "relocate: propagate content type (%s)", state)
		}
	}
	if len(props.Metadata) > 0 {
		if err := r.blobs.SetMetadata(ctx, dst, props.Metadata); err != nil {
			return false, eris.Wrapf(err, "relocate: propagate metadata (%s)", state)
		}
	}
	state = stateMetadataUpdated

	if err := r.blobs.Delete(ctx, src); err != nil {
		return false, eris.Wrapf(err, "relocate: delete old object (%s)", state)
	}
	state = stateOldDeleted

	event := model.AuditEvent{
		Timestamp: time.Now().UTC(),
		Action:    model.ActionFileRenamed,
		Status:    string(record.MatchStatus),
		UserID:    record.UserID,
		Details: map[string]any{
			"previous_reference": record.FileReference,
			"new_reference":      dst.URL(),
			"matched_filename":   filename,
		},
	}
	if err := r.store.ApplyRename(ctx, record.ID, dst.URL(), filename, event); err != nil {
		return false, eris.Wrapf(err, "relocate: update record (%s)", state)
	}

	zap.L().Info("file renamed",
		zap.String("record_id", record.ID),
		zap.String("from", src.Base()),
		zap.String("to", filename),
	)
	return true, nil
}

func stringField(extracted map[string]any, key string) string {
	if v, ok := extracted[key].(string); ok {
		return v
	}
	return ""
}

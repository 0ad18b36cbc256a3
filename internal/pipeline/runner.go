package pipeline

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hsp-payroll/payslip-cli/internal/blob"
	"github.com/hsp-payroll/payslip-cli/internal/model"
	"github.com/hsp-payroll/payslip-cli/internal/notify"
	"github.com/hsp-payroll/payslip-cli/internal/store"
)

// DefaultConcurrency bounds simultaneous per-document workers, and with them
// the outstanding extraction and storage calls.
const DefaultConcurrency = 3

// Splitter is the optional pre-processing step that breaks multi-page
// documents into single pages.
type Splitter interface {
	Split(ctx context.Context, ref blob.Ref) ([]blob.Ref, int, error)
}

// Runner fans a batch of document references out to bounded workers and
// aggregates their outcomes.
type Runner struct {
	scope       Scope
	proc        *Processor
	store       store.Store
	notifier    *notify.Notifier
	splitter    Splitter
	concurrency int
}

// RunnerOptions carries the optional pieces of a Runner.
type RunnerOptions struct {
	Notifier    *notify.Notifier
	Splitter    Splitter
	Concurrency int
}

// NewRunner builds a batch runner. A zero concurrency falls back to
// DefaultConcurrency.
func NewRunner(scope Scope, proc *Processor, st store.Store, opts RunnerOptions) *Runner {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Runner{
		scope:       scope,
		proc:        proc,
		store:       st,
		notifier:    opts.Notifier,
		splitter:    opts.Splitter,
		concurrency: concurrency,
	}
}

// NewBatchID returns the caller-supplied batch id, or a fresh UUID when none
// was given.
func NewBatchID(batchID string) string {
	if batchID != "" {
		return batchID
	}
	return uuid.New().String()
}

// Run processes every document reference and returns the batch summary. A
// single document failing never aborts the batch; only an unreachable store
// before processing starts is fatal.
func (r *Runner) Run(ctx context.Context, refs []string) (*model.BatchSummary, error) {
	started := time.Now()
	if err := r.store.Ping(ctx); err != nil {
		return nil, eris.Wrap(err, "pipeline: store unreachable")
	}

	if r.splitter != nil {
		refs = r.splitBatch(ctx, refs)
	}

	zap.L().Info("starting batch",
		zap.String("batch_id", r.scope.BatchID),
		zap.Int("documents", len(refs)),
		zap.Int("concurrency", r.concurrency),
	)

	summary := model.NewBatchSummary(r.scope.BatchID)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			outcome := r.proc.Process(gctx, ref)
			mu.Lock()
			summary.Add(outcome)
			mu.Unlock()
			// Failures live in the outcome; returning them would cancel
			// the sibling workers.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "pipeline: batch wait")
	}
	summary.Elapsed = time.Since(started)

	zap.L().Info("batch complete",
		zap.String("batch_id", r.scope.BatchID),
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Duration("elapsed", summary.Elapsed),
	)

	if r.notifier != nil && summary.Succeeded > 0 {
		r.notifier.Notify(ctx, r.completion(summary))
	}
	return summary, nil
}

// splitBatch replaces multi-page documents with their single-page children.
// The original is persisted as a source record and excluded from matching;
// a document that cannot be split is processed as-is.
func (r *Runner) splitBatch(ctx context.Context, refs []string) []string {
	out := make([]string, 0, len(refs))
	for _, rawRef := range refs {
		ref, err := blob.ParseRef(rawRef)
		if err != nil {
			zap.L().Warn("unparseable reference, skipping split",
				zap.String("file", blob.RedactURL(rawRef)), zap.Error(err))
			out = append(out, rawRef)
			continue
		}

		pages, total, err := r.splitter.Split(ctx, ref)
		if err != nil {
			zap.L().Warn("split failed, processing original document",
				zap.String("file", blob.RedactURL(rawRef)), zap.Error(err))
			out = append(out, rawRef)
			continue
		}
		if len(pages) == 0 {
			out = append(out, rawRef)
			continue
		}

		if err := r.saveSourceRecord(ctx, rawRef, ref, total); err != nil {
			zap.L().Error("failed to persist source record",
				zap.String("file", blob.RedactURL(rawRef)), zap.Error(err))
		}
		for _, page := range pages {
			out = append(out, page.URL())
		}
	}
	return out
}

func (r *Runner) saveSourceRecord(ctx context.Context, rawRef string, ref blob.Ref, totalPages int) error {
	cleanRef, err := blob.CleanRef(rawRef)
	if err != nil {
		return err
	}
	event := model.AuditEvent{
		Timestamp: time.Now().UTC(),
		Action:    model.ActionSourceFileSaved,
		Status:    string(model.StatusSource),
		UserID:    r.scope.UserID,
		Details:   map[string]any{"total_pages": totalPages},
	}
	extracted := map[string]any{
		"original_filename": ref.Base(),
		"total_pages":       strconv.Itoa(totalPages),
	}
	_, err = r.store.Upsert(ctx, r.scope.Key(cleanRef), extracted, model.StatusSource, []model.AuditEvent{event})
	return err
}

func (r *Runner) completion(summary *model.BatchSummary) notify.Completion {
	statusCounts := make(map[string]int, len(summary.ByStatus))
	for status, n := range summary.ByStatus {
		statusCounts[string(status)] = n
	}
	avg := summary.AverageTimings()
	return notify.Completion{
		TenantID:     r.scope.TenantID,
		ProcessID:    r.scope.ProcessID,
		BatchID:      r.scope.BatchID,
		TotalFiles:   summary.Total,
		Succeeded:    summary.Succeeded,
		Failed:       summary.Failed,
		StatusCounts: statusCounts,
		AverageTimings: map[string]any{
			"extraction_time_seconds": avg.Extraction.Seconds(),
			"matching_time_seconds":   avg.Matching.Seconds(),
			"save_time_seconds":       avg.Save.Seconds(),
		},
	}
}

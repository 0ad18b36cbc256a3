// Package pipeline orchestrates per-document payslip processing: extraction,
// identity resolution, classification, and persistence.
package pipeline

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hsp-payroll/payslip-cli/internal/blob"
	"github.com/hsp-payroll/payslip-cli/internal/extract"
	"github.com/hsp-payroll/payslip-cli/internal/match"
	"github.com/hsp-payroll/payslip-cli/internal/model"
	"github.com/hsp-payroll/payslip-cli/internal/split"
	"github.com/hsp-payroll/payslip-cli/internal/store"
)

// Scope identifies the batch every processed document belongs to.
type Scope struct {
	TenantID  string
	ProcessID string
	UserID    string
	BatchID   string
}

// Key returns the record key for a clean file reference in this scope.
func (s Scope) Key(fileReference string) model.RecordKey {
	return model.RecordKey{
		TenantID:      s.TenantID,
		ProcessID:     s.ProcessID,
		UserID:        s.UserID,
		FileReference: fileReference,
		BatchID:       s.BatchID,
	}
}

// Processor runs the per-document pipeline. It is safe for concurrent use.
type Processor struct {
	scope     Scope
	extractor extract.Analyzer
	resolver  *match.Resolver
	store     store.Store
	blobs     blob.Store
	signer    blob.URLSigner

	extractionTimeout time.Duration
	storageTimeout    time.Duration
	signTTL           time.Duration
}

// ProcessorOptions carries the optional knobs for NewProcessor.
type ProcessorOptions struct {
	Blobs             blob.Store
	Signer            blob.URLSigner
	ExtractionTimeout time.Duration
	StorageTimeout    time.Duration
	SignTTL           time.Duration
}

// NewProcessor wires a Processor. Blobs and Signer may be nil, which disables
// property enrichment and credential refresh respectively.
func NewProcessor(scope Scope, extractor extract.Analyzer, resolver *match.Resolver, st store.Store, opts ProcessorOptions) *Processor {
	p := &Processor{
		scope:             scope,
		extractor:         extractor,
		resolver:          resolver,
		store:             st,
		blobs:             opts.Blobs,
		signer:            opts.Signer,
		extractionTimeout: opts.ExtractionTimeout,
		storageTimeout:    opts.StorageTimeout,
		signTTL:           opts.SignTTL,
	}
	if p.extractionTimeout <= 0 {
		p.extractionTimeout = 2 * time.Minute
	}
	if p.storageTimeout <= 0 {
		p.storageTimeout = 30 * time.Second
	}
	if p.signTTL <= 0 {
		p.signTTL = time.Hour
	}
	return p
}

// Process runs one document end to end and returns its outcome. All failure
// paths are captured in the outcome; Process never panics the batch.
func (p *Processor) Process(ctx context.Context, rawRef string) model.Outcome {
	started := time.Now()

	cleanRef, err := blob.CleanRef(rawRef)
	if err != nil {
		return failure(rawRef, err, started)
	}
	outcome := model.Outcome{File: cleanRef}

	documentURL := rawRef
	if p.signer != nil {
		documentURL, err = blob.EnsureSignedURL(ctx, p.signer, rawRef, p.signTTL, time.Now())
		if err != nil {
			return failure(cleanRef, err, started)
		}
	}

	extractStart := time.Now()
	fields, err := p.extractDocument(ctx, documentURL)
	if err != nil {
		return failure(cleanRef, err, started)
	}
	outcome.Timings.Extraction = time.Since(extractStart)

	flat := fields.Flatten()
	p.enrich(ctx, cleanRef, flat)
	p.mergePreserved(ctx, cleanRef, flat)

	matchStart := time.Now()
	result, err := p.resolveAndClassify(ctx, fields)
	if err != nil {
		return failure(cleanRef, err, started)
	}
	outcome.Timings.Matching = time.Since(matchStart)

	details := map[string]any{"candidates": len(result.Candidates)}
	if emp := result.Matched(); emp != nil {
		details["matched_employee"] = emp.AuditRef()
	} else if result.Status == model.StatusMultipleMatches {
		refs := make([]map[string]any, len(result.Candidates))
		for i, c := range result.Candidates {
			refs[i] = c.AuditRef()
		}
		details["candidate_employees"] = refs
	}

	saveStart := time.Now()
	outcome.Timings.Total = time.Since(started)
	event := model.AuditEvent{
		Timestamp:          time.Now().UTC(),
		Action:             model.ActionInitialMatch,
		Status:             string(result.Status),
		UserID:             p.scope.UserID,
		Details:            details,
		PerformanceMetrics: outcome.Timings.Metrics(),
	}

	saveCtx, cancel := context.WithTimeout(ctx, p.storageTimeout)
	defer cancel()
	recordID, err := p.store.Upsert(saveCtx, p.scope.Key(cleanRef), flat, result.Status, []model.AuditEvent{event})
	if err != nil {
		return failure(cleanRef, err, started)
	}
	outcome.Timings.Save = time.Since(saveStart)
	outcome.Timings.Total = time.Since(started)
	outcome.RecordID = recordID
	outcome.Status = result.Status

	zap.L().Info("document processed",
		zap.String("file", cleanRef),
		zap.String("status", string(result.Status)),
		zap.String("record_id", recordID),
		zap.Duration("elapsed", outcome.Timings.Total),
	)
	return outcome
}

func (p *Processor) extractDocument(ctx context.Context, documentURL string) (model.ExtractedFields, error) {
	extractCtx, cancel := context.WithTimeout(ctx, p.extractionTimeout)
	defer cancel()
	return p.extractor.Extract(extractCtx, documentURL)
}

// enrich adds blob properties on top of the flattened fields: size, upload
// time, original filename, and split-page provenance when present. Property
// lookup failure degrades to extraction-only data.
func (p *Processor) enrich(ctx context.Context, cleanRef string, flat map[string]any) {
	if p.blobs == nil {
		return
	}
	ref, err := blob.ParseRef(cleanRef)
	if err != nil {
		zap.L().Warn("unparseable file reference, skipping enrichment",
			zap.String("file", cleanRef), zap.Error(err))
		return
	}

	propCtx, cancel := context.WithTimeout(ctx, p.storageTimeout)
	defer cancel()
	props, err := p.blobs.Properties(propCtx, ref)
	if err != nil {
		zap.L().Warn("blob properties unavailable",
			zap.String("file", cleanRef), zap.Error(err))
		return
	}

	flat["fileSize"] = strconv.FormatInt(props.Size, 10)
	if !props.CreatedAt.IsZero() {
		flat["upload_timestamp"] = props.CreatedAt.UTC().Format(time.RFC3339)
	}
	if name, ok := props.Metadata[split.MetaSourceFilename]; ok {
		flat["original_filename"] = name
		flat[split.MetaPageNumber] = props.Metadata[split.MetaPageNumber]
		flat[split.MetaTotalPages] = props.Metadata[split.MetaTotalPages]
	} else if _, ok := flat["original_filename"]; !ok {
		flat["original_filename"] = ref.Base()
	}
}

// mergePreserved folds previously persisted metadata for the same clean
// reference under the fresh extraction, so reprocessing never loses
// externally supplied keys.
func (p *Processor) mergePreserved(ctx context.Context, cleanRef string, flat map[string]any) {
	prev, err := p.store.PreservedMetadata(ctx, p.scope.TenantID, p.scope.ProcessID, cleanRef)
	if err != nil {
		zap.L().Warn("preserved metadata lookup failed",
			zap.String("file", cleanRef), zap.Error(err))
		return
	}
	for k, v := range prev {
		if _, ok := flat[k]; !ok {
			flat[k] = v
		}
	}
}

func (p *Processor) resolveAndClassify(ctx context.Context, fields model.ExtractedFields) (model.MatchResult, error) {
	name := fields.Get(model.FieldEmployeeName)
	identifier := fields.Get(model.FieldEmployeeID)

	candidates, err := p.resolver.Resolve(ctx, name, identifier, p.scope.TenantID)
	if err != nil && !errors.Is(err, match.ErrNoCriteria) {
		return model.MatchResult{}, err
	}
	return match.Classify(fields, candidates), nil
}

// failure records a per-document failure. The reference is redacted first:
// when CleanRef itself failed the caller can only hand us the raw URL, which
// may still carry a signed credential.
func failure(file string, err error, started time.Time) model.Outcome {
	file = blob.RedactURL(file)
	zap.L().Error("document processing failed",
		zap.String("file", file),
		zap.Error(err),
	)
	return model.Outcome{
		File:    file,
		Err:     err,
		ErrMsg:  err.Error(),
		Timings: model.Timings{Total: time.Since(started)},
	}
}

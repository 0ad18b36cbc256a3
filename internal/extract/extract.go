// Package extract adapts the document analysis service into the internal
// payslip field schema.
package extract

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/hsp-payroll/payslip-cli/internal/model"
	"github.com/hsp-payroll/payslip-cli/pkg/docintel"
)

// Analyzer extracts payslip fields from a document URL.
type Analyzer interface {
	Extract(ctx context.Context, documentURL string) (model.ExtractedFields, error)
}

// Error marks a document-level extraction failure. A batch keeps running
// through these; only infrastructure errors before the batch starts are fatal.
type Error struct {
	Err error
}

func (e *Error) Error() string { return "extract: " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Service wraps a docintel client and maps vendor field names onto the
// internal schema.
type Service struct {
	client docintel.Client
}

// NewService creates an extraction adapter over a document analysis client.
func NewService(client docintel.Client) *Service {
	return &Service{client: client}
}

// Extract analyzes a document and returns the schema-complete field map.
// Vendor fields without an alias are dropped with a debug log; missing fields
// stay empty with zero confidence.
func (s *Service) Extract(ctx context.Context, documentURL string) (model.ExtractedFields, error) {
	result, err := s.client.Analyze(ctx, documentURL)
	if err != nil {
		var derr *docintel.Error
		if errors.As(err, &derr) {
			zap.L().Warn("document analysis rejected",
				zap.String("kind", string(derr.Kind)),
				zap.Int("status", derr.StatusCode))
		}
		return nil, &Error{Err: err}
	}

	fields := model.NewExtractedFields()
	for vendor, f := range result.Fields {
		name, ok := model.CanonicalField(vendor)
		if !ok {
			zap.L().Debug("unmapped extraction field", zap.String("field", vendor))
			continue
		}
		value := f.Content
		fields[name] = model.FieldValue{Value: &value, Confidence: f.Confidence}
	}
	return fields, nil
}

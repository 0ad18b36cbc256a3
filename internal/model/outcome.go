package model

import "time"

// Timings captures per-document phase durations.
type Timings struct {
	Extraction time.Duration `json:"extraction"`
	Matching   time.Duration `json:"matching"`
	Save       time.Duration `json:"save"`
	Total      time.Duration `json:"total"`
}

// Metrics flattens the timings into the audit-log metric shape (seconds).
func (t Timings) Metrics() map[string]float64 {
	return map[string]float64{
		"extraction_time_seconds": t.Extraction.Seconds(),
		"matching_time_seconds":   t.Matching.Seconds(),
		"save_time_seconds":       t.Save.Seconds(),
		"total_time_seconds":      t.Total.Seconds(),
	}
}

// Outcome is the per-document processing result. Err is set only for
// documents that failed outright; documents that processed but did not match
// carry their MatchStatus with a nil Err.
type Outcome struct {
	File     string      `json:"file"`
	RecordID string      `json:"id,omitempty"`
	Status   MatchStatus `json:"match_status,omitempty"`
	Err      error       `json:"-"`
	ErrMsg   string      `json:"error,omitempty"`
	Timings  Timings     `json:"performance"`
}

// Succeeded reports whether the document was processed end to end.
func (o Outcome) Succeeded() bool { return o.Err == nil }

// BatchSummary aggregates outcomes for one batch run.
type BatchSummary struct {
	BatchID    string        `json:"batch_id"`
	Total      int           `json:"total_documents"`
	Succeeded  int           `json:"successful"`
	Failed     int           `json:"failed"`
	ByStatus   map[MatchStatus]int `json:"by_status"`
	Outcomes   []Outcome     `json:"outcomes"`
	FailedDocs []Outcome     `json:"failed_documents,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`

	totalExtraction time.Duration
	totalMatching   time.Duration
	totalSave       time.Duration
}

// NewBatchSummary returns an empty summary for the given batch.
func NewBatchSummary(batchID string) *BatchSummary {
	return &BatchSummary{
		BatchID:  batchID,
		ByStatus: make(map[MatchStatus]int),
	}
}

// Add folds one outcome into the aggregate.
func (s *BatchSummary) Add(o Outcome) {
	s.Total++
	s.Outcomes = append(s.Outcomes, o)
	if !o.Succeeded() {
		s.Failed++
		s.FailedDocs = append(s.FailedDocs, o)
		return
	}
	s.Succeeded++
	s.ByStatus[o.Status]++
	s.totalExtraction += o.Timings.Extraction
	s.totalMatching += o.Timings.Matching
	s.totalSave += o.Timings.Save
}

// AverageTimings returns mean per-phase durations over successful documents.
func (s *BatchSummary) AverageTimings() Timings {
	if s.Succeeded == 0 {
		return Timings{}
	}
	n := time.Duration(s.Succeeded)
	return Timings{
		Extraction: s.totalExtraction / n,
		Matching:   s.totalMatching / n,
		Save:       s.totalSave / n,
	}
}

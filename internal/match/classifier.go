package match

import "github.com/hsp-payroll/payslip-cli/internal/model"

// Classify derives the match status from extraction completeness and the
// resolver's candidate list. Rule order matters: extraction completeness is
// checked first, regardless of candidates.
func Classify(extracted model.ExtractedFields, candidates []model.Employee) model.MatchResult {
	if extracted.Get(model.FieldEmployeeName) == "" && extracted.Get(model.FieldEmployeeID) == "" {
		return model.MatchResult{Status: model.StatusExtractionFailed}
	}

	switch len(candidates) {
	case 0:
		return model.MatchResult{Status: model.StatusNoMatch}
	case 1:
		return model.MatchResult{Status: model.StatusMatched, Candidates: candidates}
	default:
		return model.MatchResult{Status: model.StatusMultipleMatches, Candidates: candidates}
	}
}

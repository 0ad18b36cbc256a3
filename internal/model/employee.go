package model

import "strings"

// Employee is a directory record scoped to a tenant. The directory store owns
// these rows; this module only reads them.
type Employee struct {
	ID            string `json:"id"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	MiddleName    string `json:"middle_name,omitempty"`
	PreferredName string `json:"preferred_name,omitempty"`
	Identifier    string `json:"employee_identifier,omitempty"`
}

// DisplayName returns "First Last" and is the stable secondary sort key for
// ranked match candidates.
func (e Employee) DisplayName() string {
	return strings.TrimSpace(e.FirstName + " " + e.LastName)
}

// AuditRef returns the trimmed representation of a matched employee stored in
// audit event details.
func (e Employee) AuditRef() map[string]any {
	return map[string]any{
		"id":                  e.ID,
		"name":                e.FirstName,
		"last_name":           e.LastName,
		"employee_identifier": e.Identifier,
	}
}

// MatchResult is the classifier output: a status plus the candidates that
// justify it. StatusMatched carries exactly one candidate, multiple_matches
// the full ranked list, all other statuses none.
type MatchResult struct {
	Status     MatchStatus `json:"status"`
	Candidates []Employee  `json:"candidates,omitempty"`
}

// Matched returns the single matched employee, or nil for any other status.
func (r MatchResult) Matched() *Employee {
	if r.Status != StatusMatched || len(r.Candidates) != 1 {
		return nil
	}
	return &r.Candidates[0]
}

// Package match resolves extracted payslip identities against the employee
// directory and classifies the result.
package match

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"

	"github.com/hsp-payroll/payslip-cli/internal/model"
)

// ErrNoCriteria means neither a name nor an identifier was supplied.
var ErrNoCriteria = eris.New("match: no name or identifier to match on")

// maxCandidates caps how many ranked candidates a resolution returns.
const maxCandidates = 10

// Directory is the read-only view of the employee directory the resolver
// needs. The pgx implementation lives in internal/directory.
type Directory interface {
	// ByIdentifier performs an exact, case-sensitive lookup on the
	// tenant-scoped identifier index.
	ByIdentifier(ctx context.Context, tenantID, identifier string) ([]model.Employee, error)
	// ByTenant returns every active employee of the tenant for name-variant
	// matching. Scans are bounded by tenant size.
	ByTenant(ctx context.Context, tenantID string) ([]model.Employee, error)
}

// Resolver maps an extracted name and/or identifier to directory records.
type Resolver struct {
	dir Directory
}

// NewResolver creates a Resolver over the given directory.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Match tiers. Full-name agreement is the strongest evidence; a bare first or
// last name hit is weak and ranks last.
const (
	tierFullName  = 1
	tierPreferred = 2
	tierComponent = 3
)

type candidate struct {
	emp  model.Employee
	tier int
}

// Resolve returns up to 10 directory records matching the extracted identity,
// strongest evidence first. An identifier hit short-circuits name matching.
// When the identifier finds nothing (or is blank) a non-empty name is
// required; ErrNoCriteria is returned when both are blank.
func (r *Resolver) Resolve(ctx context.Context, name, identifier, tenantID string) ([]model.Employee, error) {
	identifier = strings.TrimSpace(identifier)
	normName := NormalizeName(name)

	if identifier == "" && normName == "" {
		return nil, ErrNoCriteria
	}

	if identifier != "" {
		emps, err := r.dir.ByIdentifier(ctx, tenantID, identifier)
		if err != nil {
			return nil, eris.Wrapf(err, "match: identifier lookup for tenant %s", tenantID)
		}
		if len(emps) > 0 {
			if len(emps) > maxCandidates {
				emps = emps[:maxCandidates]
			}
			return emps, nil
		}
	}

	if normName == "" {
		return nil, nil
	}

	emps, err := r.dir.ByTenant(ctx, tenantID)
	if err != nil {
		return nil, eris.Wrapf(err, "match: tenant scan for %s", tenantID)
	}

	var cands []candidate
	for _, e := range emps {
		if tier, ok := bestTier(e, normName); ok {
			cands = append(cands, candidate{emp: e, tier: tier})
		}
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].tier != cands[j].tier {
			return cands[i].tier < cands[j].tier
		}
		return cands[i].emp.DisplayName() < cands[j].emp.DisplayName()
	})

	if len(cands) > maxCandidates {
		cands = cands[:maxCandidates]
	}
	out := make([]model.Employee, len(cands))
	for i, c := range cands {
		out[i] = c.emp
	}
	return out, nil
}

// NormalizeName prepares a name for comparison: NFC form, lower case,
// trimmed, inner whitespace collapsed. Applied identically to the extracted
// input and to every computed variant, so equality is preserved.
func NormalizeName(name string) string {
	name = norm.NFC.String(name)
	name = strings.ToLower(name)
	return strings.Join(strings.Fields(name), " ")
}

// bestTier reports the strongest tier at which the normalized input equals
// one of the employee's name variants, or false when nothing matches.
func bestTier(e model.Employee, input string) (int, bool) {
	best := 0
	for _, v := range nameVariants(e) {
		if v.text != input {
			continue
		}
		if best == 0 || v.tier < best {
			best = v.tier
		}
		if best == tierFullName {
			break
		}
	}
	return best, best != 0
}

type variant struct {
	text string
	tier int
}

// nameVariants recombines first/last/middle/preferred into the fixed variant
// set: western, reverse, comma, simple, the no-middle forms, preferred, and
// the three single components. Blank variants are dropped.
func nameVariants(e model.Employee) []variant {
	first := NormalizeName(e.FirstName)
	last := NormalizeName(e.LastName)
	middle := NormalizeName(e.MiddleName)
	preferred := NormalizeName(e.PreferredName)

	join := func(parts ...string) string {
		var kept []string
		for _, p := range parts {
			if p != "" {
				kept = append(kept, p)
			}
		}
		return strings.Join(kept, " ")
	}

	comma := ""
	if last != "" {
		comma = NormalizeName(last + ", " + join(first, middle))
	}

	all := []variant{
		{join(first, middle, last), tierFullName}, // western
		{join(last, first, middle), tierFullName}, // reverse
		{comma, tierFullName},                     // comma
		{join(first, last), tierFullName},         // simple / western without middle
		{join(last, first), tierFullName},         // reverse without middle
		{preferred, tierPreferred},
		{first, tierComponent},
		{last, tierComponent},
		{middle, tierComponent},
	}

	variants := all[:0]
	for _, v := range all {
		if v.text != "" {
			variants = append(variants, v)
		}
	}
	return variants
}

package model

import "strings"

// Payslip field names in the internal vocabulary.
const (
	FieldEmployeeName = "employee_name"
	FieldEmployeeID   = "employee_id"
	FieldEmployer     = "employer"
	FieldPaymentDate  = "payment_date"
	FieldNetPay       = "net_pay"
	FieldPayCycle     = "pay_cycle"
)

// PayslipFields is the fixed extraction schema, in persistence order.
var PayslipFields = []string{
	FieldEmployeeName,
	FieldEmployeeID,
	FieldEmployer,
	FieldPaymentDate,
	FieldNetPay,
	FieldPayCycle,
}

// fieldAliases maps the extraction-service vocabulary onto the internal one.
// The table is exhaustive: a vendor field absent here is ignored. The model
// emits net_payment while the application stores net_pay; both spellings are
// accepted.
var fieldAliases = map[string]string{
	"employee_name": FieldEmployeeName,
	"employee_id":   FieldEmployeeID,
	"employer":      FieldEmployer,
	"payment_date":  FieldPaymentDate,
	"net_payment":   FieldNetPay,
	"net_pay":       FieldNetPay,
	"pay_cycle":     FieldPayCycle,
}

// CanonicalField resolves a vendor field name to the internal field name.
// The second return is false when the vendor field has no mapping.
func CanonicalField(vendor string) (string, bool) {
	name, ok := fieldAliases[strings.ToLower(strings.TrimSpace(vendor))]
	return name, ok
}

// FieldValue is one extracted field with its model confidence.
type FieldValue struct {
	Value      *string `json:"value"`
	Confidence float64 `json:"confidence"`
}

// ExtractedFields maps internal field names to extracted values. Created once
// per document by the extraction adapter; the orchestrator only adds
// enrichment keys (file size, upload time, original filename) on top of the
// flattened form.
type ExtractedFields map[string]FieldValue

// NewExtractedFields returns a schema-complete map with empty values and zero
// confidence for every payslip field.
func NewExtractedFields() ExtractedFields {
	f := make(ExtractedFields, len(PayslipFields))
	for _, name := range PayslipFields {
		f[name] = FieldValue{}
	}
	return f
}

// Get returns the trimmed value of a field, or "" when absent or empty.
func (f ExtractedFields) Get(name string) string {
	fv, ok := f[name]
	if !ok || fv.Value == nil {
		return ""
	}
	return strings.TrimSpace(*fv.Value)
}

// Flatten converts the nested field map into the flat persistence shape:
// one "<field>" key per value and one "<field>_confidence" key per score.
func (f ExtractedFields) Flatten() map[string]any {
	flat := make(map[string]any, len(f)*2)
	for name, fv := range f {
		if fv.Value != nil {
			flat[name] = *fv.Value
		} else {
			flat[name] = nil
		}
		flat[name+"_confidence"] = fv.Confidence
	}
	return flat
}

// Keys in extracted_data that are owned by earlier processing rather than by
// field extraction. They survive reprocessing of the same file reference.
var PreservedMetadataKeys = []string{"fileSize", "payslipId", "original_filename"}

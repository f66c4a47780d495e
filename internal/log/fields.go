package log

// Common field names for structured logging. Identity-bearing values (email,
// names, tokens) are never logged; user references in logs use the numeric
// internal id.
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldError      = "error"

	FieldBatchID     = "batch_id"
	FieldUserID      = "user_id"
	FieldRuleID      = "rule_id"
	FieldRuleKind    = "rule_kind"
	FieldPattern     = "pattern"
	FieldCategory    = "category"
	FieldConfidence  = "confidence"
	FieldMatchSource = "match_source"
	FieldFactID      = "fact_id"
	FieldImported    = "imported"
	FieldSkipped     = "skipped"
	FieldErrors      = "errors"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentWorker    = "worker"
	ComponentImport    = "import"
	ComponentIdentity  = "identity"
	ComponentRetention = "retention"
)

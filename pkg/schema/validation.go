package schema

import "fmt"

type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue locates one definition problem by its tree path, e.g.
// "root.children[2].inputs.message".
type ValidationIssue struct {
	Path     string             `json:"path"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

func (i ValidationIssue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// ValidationResult collects the issues found in a definition. Only errors
// make it invalid.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

func (r *ValidationResult) Valid() bool { return len(r.Errors) == 0 }

func (r *ValidationResult) Fail(path, msg string) {
	r.Errors = append(r.Errors, ValidationIssue{Path: path, Message: msg, Severity: SeverityError})
}

func (r *ValidationResult) Failf(path, format string, args ...any) {
	r.Fail(path, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) Warn(path, msg string) {
	r.Warnings = append(r.Warnings, ValidationIssue{Path: path, Message: msg, Severity: SeverityWarning})
}

func (r *ValidationResult) Warnf(path, format string, args ...any) {
	r.Warn(path, fmt.Sprintf(format, args...))
}

// Merge appends other's issues; nil is a no-op.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// Err returns nil for a valid result, otherwise a VALIDATION_ERROR whose
// message names the first error and whose details carry every issue.
func (r *ValidationResult) Err() error {
	if r.Valid() {
		return nil
	}
	msg := r.Errors[0].String()
	if n := len(r.Errors) - 1; n > 0 {
		msg = fmt.Sprintf("%s (and %d more)", msg, n)
	}
	return NewError(ErrCodeValidation, msg).WithDetails(map[string]any{
		"error_count":   len(r.Errors),
		"warning_count": len(r.Warnings),
		"errors":        r.Errors,
		"warnings":      r.Warnings,
	})
}

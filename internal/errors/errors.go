package errors

import (
	"fmt"
	"strings"
)

// Severity indicates how serious a compiler diagnostic is.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityHint
)

// Kind classifies a diagnostic. Parse errors are fail-fast (one per run);
// every other kind is accumulated by the validator so the user sees all
// problems in a single invocation.
type Kind int

const (
	KindParse Kind = iota
	KindDuplicateName
	KindUnknownReference
	KindTypeMismatch
	KindInvalidDecorator
	KindAuthEntityConflict
	KindPolicyViolation
	KindProcessStep
	KindGenerator
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse"
	case KindDuplicateName:
		return "duplicate-name"
	case KindUnknownReference:
		return "unknown-reference"
	case KindTypeMismatch:
		return "type-mismatch"
	case KindInvalidDecorator:
		return "invalid-decorator"
	case KindAuthEntityConflict:
		return "auth-entity-conflict"
	case KindPolicyViolation:
		return "policy-violation"
	case KindProcessStep:
		return "process-step"
	case KindGenerator:
		return "generator"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// CompilerError is a single diagnostic from the compiler.
type CompilerError struct {
	Kind       Kind     // error taxonomy entry
	Message    string   // human-readable description
	Severity   Severity // error, warning, or hint
	File       string   // source file path (empty if unknown)
	Line       int      // 0 if unknown
	Column     int      // 0 if unknown
	Length     int      // number of runes the diagnostic covers, 0 if unknown
	Suggestion string   // e.g. "Did you mean 'User'?" (optional)
	Code       string   // "E201" style error code
}

// Format returns a single-line representation of this error
// suitable for terminal output (without ANSI — the caller wraps with cli colors).
func (e *CompilerError) Format() string {
	var b strings.Builder

	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(" — ")
	} else if e.Line > 0 {
		fmt.Fprintf(&b, "%d:%d — ", e.Line, e.Column)
	}

	b.WriteString(e.Message)

	if e.Code != "" {
		b.WriteString(" [")
		b.WriteString(e.Code)
		b.WriteString("]")
	}

	return b.String()
}

// CompilerErrors collects diagnostics produced during compilation.
type CompilerErrors struct {
	errors []*CompilerError
	file   string // default file context
}

// New creates a CompilerErrors collection scoped to a file.
func New(file string) *CompilerErrors {
	return &CompilerErrors{file: file}
}

// Add appends an error to the collection.
func (ce *CompilerErrors) Add(err *CompilerError) {
	if err.File == "" {
		err.File = ce.file
	}
	ce.errors = append(ce.errors, err)
}

// AddError is a shorthand for adding a SeverityError diagnostic at a position.
func (ce *CompilerErrors) AddError(kind Kind, code, message string, line, column int) {
	ce.Add(&CompilerError{
		Kind:     kind,
		Code:     code,
		Message:  message,
		Severity: SeverityError,
		Line:     line,
		Column:   column,
	})
}

// AddWarning is a shorthand for adding a SeverityWarning diagnostic.
func (ce *CompilerErrors) AddWarning(kind Kind, code, message string, line, column int) {
	ce.Add(&CompilerError{
		Kind:     kind,
		Code:     code,
		Message:  message,
		Severity: SeverityWarning,
		Line:     line,
		Column:   column,
	})
}

// AddErrorWithSuggestion adds an error with a "did you mean" suggestion.
func (ce *CompilerErrors) AddErrorWithSuggestion(kind Kind, code, message, suggestion string, line, column int) {
	ce.Add(&CompilerError{
		Kind:       kind,
		Code:       code,
		Message:    message,
		Severity:   SeverityError,
		Suggestion: suggestion,
		Line:       line,
		Column:     column,
	})
}

// HasErrors returns true if the collection contains any SeverityError entries.
func (ce *CompilerErrors) HasErrors() bool {
	for _, e := range ce.errors {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// HasWarnings returns true if the collection contains any SeverityWarning entries.
func (ce *CompilerErrors) HasWarnings() bool {
	for _, e := range ce.errors {
		if e.Severity == SeverityWarning {
			return true
		}
	}
	return false
}

// Errors returns only the SeverityError entries.
func (ce *CompilerErrors) Errors() []*CompilerError {
	var result []*CompilerError
	for _, e := range ce.errors {
		if e.Severity == SeverityError {
			result = append(result, e)
		}
	}
	return result
}

// Warnings returns only the SeverityWarning entries.
func (ce *CompilerErrors) Warnings() []*CompilerError {
	var result []*CompilerError
	for _, e := range ce.errors {
		if e.Severity == SeverityWarning {
			result = append(result, e)
		}
	}
	return result
}

// All returns every diagnostic in the collection.
func (ce *CompilerErrors) All() []*CompilerError {
	return ce.errors
}

// Format returns a human-friendly multiline string of all diagnostics.
func (ce *CompilerErrors) Format() string {
	var b strings.Builder
	for i, e := range ce.errors {
		if i > 0 {
			b.WriteString("\n")
		}

		switch e.Severity {
		case SeverityError:
			fmt.Fprintf(&b, "✗ %s", e.Format())
		case SeverityWarning:
			fmt.Fprintf(&b, "⚠ %s", e.Format())
		case SeverityHint:
			fmt.Fprintf(&b, "· %s", e.Format())
		}

		if e.Suggestion != "" {
			fmt.Fprintf(&b, "\n  suggestion: %s", e.Suggestion)
		}
	}
	return b.String()
}

package deadletter

import (
	"errors"
	"fmt"
	"maps"
	"strings"
)

// Category classifies the failure mode of a captured error. The
// classification scheme is owned by the host dispatcher; this package
// consumes it verbatim and otherwise synthesizes the generic shape.
type Category string

const (
	CategoryTransient     Category = "TRANSIENT"
	CategoryPermanent     Category = "PERMANENT"
	CategoryValidation    Category = "VALIDATION"
	CategoryConfiguration Category = "CONFIGURATION"
	CategorySecurity      Category = "SECURITY"
	CategoryResource      Category = "RESOURCE"
	CategoryNetwork       Category = "NETWORK"
	CategoryDependency    Category = "DEPENDENCY"
)

// Retryable reports whether failures of this category are typically
// worth replaying. Guidance for the external scheduler only; the
// Manager never enforces retryability.
func (c Category) Retryable() bool {
	switch c {
	case CategoryTransient, CategoryNetwork, CategoryDependency:
		return true
	default:
		return false
	}
}

// CodeUnknown is the error code synthesized for unclassified errors.
const CodeUnknown = "UNKNOWN"

// ErrorDetail is the normalized error record persisted on an Entry.
// For classified errors Code, Category, and Retryable are copied
// verbatim from the source; for everything else the generic shape is
// synthesized with Code set to UNKNOWN.
type ErrorDetail struct {
	Name      string         `json:"name,omitempty"`
	Message   string         `json:"message"`
	Code      string         `json:"code"`
	Category  Category       `json:"category,omitempty"`
	Retryable *bool          `json:"retryable,omitempty"`
	Stack     string         `json:"stack,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Classification is the {code, category, retryable} triple a classified
// error exposes.
type Classification struct {
	Code      string
	Category  Category
	Retryable bool
}

// Classifier is implemented by errors that carry a classification.
// Errors from the host dispatcher's error scheme implement it; wrapped
// errors are unwrapped with errors.As.
type Classifier interface {
	error
	Classification() Classification
}

// ClassifiedError is a ready-made Classifier for callers that want to
// hand a classified failure to the queue without defining their own
// error type.
type ClassifiedError struct {
	Code     string
	Category Category
	Message  string
	// Retryable overrides the category default when non-nil.
	Retryable *bool
	Details   map[string]any
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string { return e.Message }

// Classification implements Classifier.
func (e *ClassifiedError) Classification() Classification {
	retryable := e.Category.Retryable()
	if e.Retryable != nil {
		retryable = *e.Retryable
	}
	return Classification{Code: e.Code, Category: e.Category, Retryable: retryable}
}

// stackTracer is satisfied by errors that carry a captured stack.
type stackTracer interface {
	StackTrace() string
}

// Normalize converts an arbitrary error into the detail record persisted
// on an entry. A nil error yields an empty UNKNOWN record; this keeps
// capture robust against dispatchers that report a failure without a
// cause.
func Normalize(err error) ErrorDetail {
	if err == nil {
		return ErrorDetail{Code: CodeUnknown}
	}

	var classifier Classifier
	if errors.As(err, &classifier) {
		cls := classifier.Classification()
		retryable := cls.Retryable
		detail := ErrorDetail{
			Name:      errorName(err),
			Message:   err.Error(),
			Code:      cls.Code,
			Category:  cls.Category,
			Retryable: &retryable,
		}
		var ce *ClassifiedError
		if errors.As(err, &ce) {
			detail.Details = maps.Clone(ce.Details)
		}
		return detail
	}

	detail := ErrorDetail{
		Name:    errorName(err),
		Message: err.Error(),
		Code:    CodeUnknown,
	}
	var st stackTracer
	if errors.As(err, &st) {
		detail.Stack = st.StackTrace()
	}
	return detail
}

// errorName derives a stable type name for the persisted record.
func errorName(err error) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}

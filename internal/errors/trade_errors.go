package errors

import "fmt"

// ErrorCategory classifies failures across the trading pipeline. The
// taxonomy maps one-to-one onto how a failure is handled: data
// insufficiency and sizing rejections skip the cycle, exchange rejections
// abort the symbol's cycle, an unprotected position is escalated to the
// fallback monitor, stream failures trigger reconnects.
type ErrorCategory string

const (
	CategoryData          ErrorCategory = "DATA"
	CategorySizing        ErrorCategory = "SIZING"
	CategoryExchange      ErrorCategory = "EXCHANGE"
	CategoryEntryLeg      ErrorCategory = "ENTRY_LEG"
	CategoryProtectiveLeg ErrorCategory = "PROTECTIVE_LEG"
	CategoryStream        ErrorCategory = "STREAM"
	CategoryStore         ErrorCategory = "STORE"
	CategoryOptimizer     ErrorCategory = "OPTIMIZER"
	CategoryML            ErrorCategory = "ML"
	CategoryCredentials   ErrorCategory = "CREDENTIALS"
	CategoryConfig        ErrorCategory = "CONFIG"
)

// TradeError is a categorized error with the context needed to decide how a
// cycle degrades. There is no fatal error in the engine: every category
// resolves to skipping a cycle, reconnecting, or escalating to the
// fallback monitor.
type TradeError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
	Retryable  bool
}

func (e *TradeError) Error() string {
	if e.Underlying != nil {
		if e.Message != "" {
			return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
		}
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Component, e.Operation, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

func (e *TradeError) Unwrap() error {
	return e.Underlying
}

// IsUnprotectedPosition reports whether this error means a market entry
// succeeded but its protective exit order did not register. Callers must
// escalate these to the fallback monitor instead of retrying inline.
func (e *TradeError) IsUnprotectedPosition() bool {
	return e.Category == CategoryProtectiveLeg
}

// New creates a categorized error without an underlying cause.
func New(category ErrorCategory, component, operation, message string) *TradeError {
	return &TradeError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Retryable: retryable(category),
	}
}

// Wrap attaches category and context to an existing error. Returns nil for
// a nil cause so call sites can wrap unconditionally.
func Wrap(category ErrorCategory, component, operation string, err error) *TradeError {
	if err == nil {
		return nil
	}
	return &TradeError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Underlying: err,
		Retryable:  retryable(category),
	}
}

// WithRetryable overrides the default retryability of the category.
func (e *TradeError) WithRetryable(r bool) *TradeError {
	e.Retryable = r
	return e
}

func retryable(category ErrorCategory) bool {
	switch category {
	case CategoryStream, CategoryExchange:
		return true
	default:
		return false
	}
}

// NewEntryLegError marks a failed market entry for a symbol. The symbol's
// cycle aborts; nothing was placed, so a later cycle may try again.
func NewEntryLegError(component, symbol string, err error) *TradeError {
	e := Wrap(CategoryEntryLeg, component, "place market buy", err)
	e.Message = symbol
	return e
}

// NewProtectiveLegError marks a protective order that failed to register
// after a successful entry. The position is open and unprotected.
func NewProtectiveLegError(component, symbol string, err error) *TradeError {
	e := Wrap(CategoryProtectiveLeg, component, "place protective order", err)
	e.Message = symbol
	return e
}

// NewSizingRejection marks a sizing result that cannot be sent to the
// exchange (zero or under-minimum quantity). Not retryable; the cycle
// simply continues.
func NewSizingRejection(component, message string) *TradeError {
	return New(CategorySizing, component, "size position", message)
}

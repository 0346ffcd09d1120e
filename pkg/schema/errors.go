package schema

import "fmt"

// Error codes for structured error reporting.
const (
	// ErrCodeEvaluation marks a bad or unsafe condition expression.
	// Step-level, recoverable via the onFailure branch.
	ErrCodeEvaluation = "EVALUATION_ERROR"
	// ErrCodeStepInvocation marks a failed or timed-out external action.
	// Step-level, recoverable.
	ErrCodeStepInvocation = "STEP_INVOCATION_ERROR"
	// ErrCodeStepLimitExceeded marks a run that produced more step
	// executions than the safety ceiling. Run-fatal.
	ErrCodeStepLimitExceeded = "STEP_LIMIT_EXCEEDED"
	// ErrCodeScheduleParse marks a malformed cron expression, rejected at
	// save/activate time.
	ErrCodeScheduleParse = "SCHEDULE_PARSE_ERROR"
	// ErrCodeDefinitionIntegrity marks a definition with missing step
	// references or a trigger config that does not match its declared type.
	ErrCodeDefinitionIntegrity = "DEFINITION_INTEGRITY_ERROR"

	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeConflict   = "CONFLICT"
	ErrCodeCancelled  = "CANCELLED"
	ErrCodeStore      = "STORE_ERROR"
)

// FlowError is the structured error type for all flowcore operations.
type FlowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FlowError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FlowError.
func NewError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// NewErrorf creates a new FlowError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowError {
	return &FlowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *FlowError) WithStep(stepID string) *FlowError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}

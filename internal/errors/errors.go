package errors

import (
	"errors"
	"fmt"
)

// InputValidationError reports malformed candidate data or configuration.
type InputValidationError struct {
	Field  string
	Reason string
}

func (e *InputValidationError) Error() string {
	return fmt.Sprintf("invalid input %s: %s", e.Field, e.Reason)
}

// ConstraintConflictError reports forced selections or quotas that contradict each other
// before any search happens.
type ConstraintConflictError struct {
	Rule   string
	Detail string
}

func (e *ConstraintConflictError) Error() string {
	return fmt.Sprintf("constraint conflict (%s): %s", e.Rule, e.Detail)
}

// InfeasibleError reports that no squad satisfies the constraint set.
type InfeasibleError struct {
	Class  InfeasibleClass
	Detail string
}

func (e *InfeasibleError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("no feasible squad: %s", e.Class)
	}
	return fmt.Sprintf("no feasible squad: %s: %s", e.Class, e.Detail)
}

// NewInputValidation builds an InputValidationError with a formatted reason.
func NewInputValidation(field, format string, args ...interface{}) error {
	return &InputValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NewConstraintConflict builds a ConstraintConflictError with a formatted detail.
func NewConstraintConflict(rule, format string, args ...interface{}) error {
	return &ConstraintConflictError{Rule: rule, Detail: fmt.Sprintf(format, args...)}
}

// NewInfeasible builds an InfeasibleError with a formatted detail.
func NewInfeasible(class InfeasibleClass, format string, args ...interface{}) error {
	return &InfeasibleError{Class: class, Detail: fmt.Sprintf(format, args...)}
}

// GetCode extracts the error code from any error.
// Returns CodeUnknown if the error is not a domain error.
func GetCode(err error) Code {
	var iv *InputValidationError
	var cc *ConstraintConflictError
	var inf *InfeasibleError
	switch {
	case errors.As(err, &iv):
		return CodeInputValidation
	case errors.As(err, &cc):
		return CodeConstraintConflict
	case errors.As(err, &inf):
		return CodeInfeasible
	}
	return CodeUnknown
}

// IsCode checks if the error has the specified code.
func IsCode(err error, code Code) bool {
	return GetCode(err) == code
}

// Details returns the structured fields of a domain error for API responses.
func Details(err error) map[string]string {
	var iv *InputValidationError
	var cc *ConstraintConflictError
	var inf *InfeasibleError
	switch {
	case errors.As(err, &iv):
		return map[string]string{"field": iv.Field, "reason": iv.Reason}
	case errors.As(err, &cc):
		return map[string]string{"rule": cc.Rule, "detail": cc.Detail}
	case errors.As(err, &inf):
		return map[string]string{"class": string(inf.Class), "detail": inf.Detail}
	}
	return nil
}

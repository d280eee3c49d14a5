// Package errors holds the error taxonomy shared by the scoring, solving and serving layers.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	CodeInputValidation    Code = "INPUT_VALIDATION"
	CodeConstraintConflict Code = "CONSTRAINT_CONFLICT"
	CodeInfeasible         Code = "INFEASIBLE"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInputValidation:
		return http.StatusBadRequest
	case CodeConstraintConflict, CodeInfeasible:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// InfeasibleClass names the constraint family that made a problem unsolvable.
type InfeasibleClass string

const (
	ClassBudget           InfeasibleClass = "budget"
	ClassCategoryCount    InfeasibleClass = "category count"
	ClassGroupCap         InfeasibleClass = "group cap"
	ClassForcedConflict   InfeasibleClass = "forced set conflict"
	ClassGroupRequirement InfeasibleClass = "group requirement"
	ClassMinSpend         InfeasibleClass = "minimum spend"
	ClassSearchLimit      InfeasibleClass = "search limit"
)

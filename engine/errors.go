package engine

import (
	"errors"
	"fmt"
)

// ErrSchemaAgreementTimeout reports that the backend never converged on a
// DDL change within the configured deadline.
var ErrSchemaAgreementTimeout = errors.New("schema agreement timed out")

// TableNotExistsError reports an operation on a table that has no registry
// record.
type TableNotExistsError struct {
	Tenant string
	Name   string
}

func (e *TableNotExistsError) Error() string {
	return fmt.Sprintf("table %s/%s does not exist", e.Tenant, e.Name)
}

// TableAlreadyExistsError reports a create for a name that is already
// registered.
type TableAlreadyExistsError struct {
	Tenant string
	Name   string
}

func (e *TableAlreadyExistsError) Error() string {
	return fmt.Sprintf("table %s/%s already exists", e.Tenant, e.Name)
}

// TableInUseError reports a lifecycle operation that conflicts with an
// in-flight one, such as deleting a table that is still being created.
type TableInUseError struct {
	Tenant string
	Name   string
	Status string
}

func (e *TableInUseError) Error() string {
	return fmt.Sprintf("table %s/%s is in use (status %s)", e.Tenant, e.Name, e.Status)
}

// ValidationError reports a malformed schema or request. It is detected
// before any backend I/O and never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// BackendError reports a backend failure that survived the statement retry
// budget.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend failure in %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

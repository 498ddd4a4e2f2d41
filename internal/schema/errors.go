package schema

import "fmt"

// validationError is a lightweight, dependency-free error used only for the
// structural self-checks value types perform on themselves. Callers that
// need the closed Kind taxonomy wrap these with errors.WithKind(schema.KindValidationError, err)
// at the package boundary; schema itself stays leaf-level and imports nothing
// of its own module's error machinery to avoid a cycle.
type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func newValidationError(format string, args ...any) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

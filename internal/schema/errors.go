package schema

import "errors"

// ErrInvalid is matched by every validation failure in this package.
//
//	if errors.Is(err, schema.ErrInvalid) {
//	    // reject the request, nothing was written
//	}
var ErrInvalid = errors.New("invalid record")

// ValidationError reports which field failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Is reports whether target is ErrInvalid.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

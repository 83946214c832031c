package common

import "fmt"

// InvalidInputError reports a request rejected by validation before any
// network access: missing or conflicting geometry, unknown edge-size unit,
// out-of-range concurrency.
type InvalidInputError struct {
	Msg string
}

func (e InvalidInputError) Error() string {
	return "invalid input: " + e.Msg
}

// InvalidInputf builds an InvalidInputError from a format string.
func InvalidInputf(format string, args ...interface{}) error {
	return InvalidInputError{Msg: fmt.Sprintf(format, args...)}
}

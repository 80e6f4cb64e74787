package normalize

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes persisted with rejected webhook events.
const (
	CodeInvalidJSON      = "INVALID_JSON"
	CodeInvalidSchema    = "INVALID_SCHEMA"
	CodeMissingFields    = "MISSING_FIELDS"
	CodeInvalidField     = "INVALID_FIELD"
	CodeInvalidTimestamp = "INVALID_TIMESTAMP"
	CodeUnknownEvent     = "UNKNOWN_EVENT"
	CodeUnknownStrategy  = "UNKNOWN_STRATEGY"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeInternal         = "INTERNAL"
)

var ErrInvalidPayload = errors.New("invalid payload")

// ValidationError is a typed parse or validation failure.
type ValidationError struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s [%s]", e.Code, e.Message, strings.Join(e.Fields, ","))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidPayload }

func newError(code, msg string, fields ...string) *ValidationError {
	return &ValidationError{Code: code, Message: msg, Fields: fields}
}

// AsValidation extracts a ValidationError from err, if there is one.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

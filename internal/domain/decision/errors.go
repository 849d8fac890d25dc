package decision

import (
	"errors"
	"fmt"
)

// RejectCode classifies a terminal, non-retryable rejection.
type RejectCode string

const (
	RejectSchemaInvalid RejectCode = "SCHEMA_INVALID"
	RejectPANDetected   RejectCode = "PAN_DETECTED"
	RejectBadLast4      RejectCode = "MISSING_OR_INVALID_LAST4"
	RejectUnhandled     RejectCode = "UNHANDLED"
)

// Rejection is a terminal classification of an inbound event. It never
// carries field values, only field paths, so it is safe to log and to place
// on a dead-letter envelope.
type Rejection struct {
	Code  RejectCode
	Field string
	Msg   string
}

func (r *Rejection) Error() string {
	if r.Field == "" {
		return fmt.Sprintf("%s: %s", r.Code, r.Msg)
	}
	return fmt.Sprintf("%s: %s (field %s)", r.Code, r.Msg, r.Field)
}

func NewRejection(code RejectCode, field string, msg string) *Rejection {
	return &Rejection{Code: code, Field: field, Msg: msg}
}

// AsRejection unwraps err to a Rejection if one is in the chain.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

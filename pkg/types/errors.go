package types

import (
	"errors"
	"fmt"
	"net/http"
)

// Table operation errors.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrInvalidID     = errors.New("invalid entity ID")
	ErrInvalidData   = errors.New("invalid entity data")
	ErrInvalidFilter = errors.New("invalid filter value type")
	ErrDuplicateName = errors.New("duplicate name")
)

// Field and value errors. These are detected locally, before any remote call.
var (
	ErrInvalidLabel        = errors.New("label must not be empty")
	ErrInvalidFieldType    = errors.New("invalid field type")
	ErrFieldNotFound       = errors.New("field not found")
	ErrOptionNotFound      = errors.New("option not found")
	ErrNotChoiceField      = errors.New("field does not take options")
	ErrTooManyOptions      = errors.New("single-select field accepts at most one option")
	ErrTypeMismatch        = errors.New("value does not match field type")
	ErrPresenceUnsupported = errors.New("presence flags require the client-data variant")
)

// Controller errors.
var (
	ErrNotReady       = errors.New("subject values are not loaded")
	ErrSaveInFlight   = errors.New("save already in progress")
	ErrSubjectChanged = errors.New("subject changed before the response arrived")
)

// ErrorKind classifies an error for reporting.
type ErrorKind int

const (
	// KindValidation errors block an action before any network round trip.
	KindValidation ErrorKind = iota + 1
	// KindNotFound is the remote "no such record" signal.
	KindNotFound
	// KindRemote covers every other transport or server failure.
	KindRemote
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// ValidationError reports a locally rejected operation.
type ValidationError struct {
	Op      string
	FieldID string
	Err     error
}

// Validation wraps err as a ValidationError for op.
func Validation(op, fieldID string, err error) error {
	return &ValidationError{Op: op, FieldID: fieldID, Err: err}
}

func (e *ValidationError) Error() string {
	if e.FieldID != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.FieldID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// RemoteError reports a failed remote call. A 404 status matches ErrNotFound
// under errors.Is.
type RemoteError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s: %d %s: %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode), e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": remote failure"
	}
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrNotFound) true for 404 responses.
func (e *RemoteError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// KindOf classifies err. Validation errors take precedence, then not-found;
// everything else is a remote failure. KindOf(nil) is 0.
func KindOf(err error) ErrorKind {
	if err == nil {
		return 0
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return KindValidation
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	return KindRemote
}

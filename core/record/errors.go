package record

import (
	"github.com/pkg/errors"

	"github.com/trezcool/autoregister/core"
	"github.com/trezcool/autoregister/core/user"
)

var (
	// errors
	ErrPermissionDenied      = user.ErrPermissionDenied
	ErrRecordNotFound        = errors.New("record not found")
	ErrAppealNotFound        = errors.New("appeal not found")
	ErrAppealAlreadyResolved = errors.New("appeal already resolved")
	ErrAppealNotAccepted     = errors.New("appeal not accepted")
	ErrNotPublished          = errors.New("record not published")
	ErrNotOwner              = errors.New("record belongs to another student")
	ErrEditWindowClosed      = errors.New("edit window closed")
	ErrCalculation           = errors.New("grade calculation failed")
	ErrInvalidState          = errors.New("invalid appeal state")
	ErrMethodologyRequired   = errors.New("a methodology note is required to publish")
)

// CalculationError wraps a grading failure. It matches ErrCalculation and its cause.
type CalculationError struct {
	Err error
}

func (e *CalculationError) Error() string {
	return ErrCalculation.Error() + ": " + e.Err.Error()
}

func (e *CalculationError) Unwrap() error { return e.Err }

func (e *CalculationError) Is(target error) bool { return target == ErrCalculation }

// ErrorKind enumerates the failures of the lifecycle operations.
type ErrorKind string

const (
	KindNone                  ErrorKind = ""
	KindPermissionDenied      ErrorKind = "permission_denied"
	KindUserNotFound          ErrorKind = "user_not_found"
	KindRoleUndefined         ErrorKind = "role_undefined"
	KindRecordNotFound        ErrorKind = "record_not_found"
	KindAppealNotFound        ErrorKind = "appeal_not_found"
	KindAppealAlreadyResolved ErrorKind = "appeal_already_resolved"
	KindAppealNotAccepted     ErrorKind = "appeal_not_accepted"
	KindNotPublished          ErrorKind = "not_published"
	KindNotOwner              ErrorKind = "not_owner"
	KindEditWindowClosed      ErrorKind = "edit_window_closed"
	KindCalculationError      ErrorKind = "calculation_error"
	KindInvalidState          ErrorKind = "invalid_state"
	KindInvalidInput          ErrorKind = "invalid_input"
	KindInternal              ErrorKind = "internal"
)

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrPermissionDenied, KindPermissionDenied},
	{user.ErrNotFound, KindUserNotFound},
	{user.ErrRoleUndefined, KindRoleUndefined},
	{ErrRecordNotFound, KindRecordNotFound},
	{ErrAppealNotFound, KindAppealNotFound},
	{ErrAppealAlreadyResolved, KindAppealAlreadyResolved},
	{ErrAppealNotAccepted, KindAppealNotAccepted},
	{ErrNotPublished, KindNotPublished},
	{ErrNotOwner, KindNotOwner},
	{ErrEditWindowClosed, KindEditWindowClosed},
	{ErrCalculation, KindCalculationError},
	{ErrInvalidState, KindInvalidState},
	{ErrMethodologyRequired, KindInvalidInput},
}

// KindOf maps `err` to its ErrorKind; unknown errors are KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var vErr *core.ValidationError
	if errors.As(err, &vErr) {
		return KindInvalidInput
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

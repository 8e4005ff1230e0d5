package flashlib

import (
	"errors"
	"fmt"

	"github.com/tarndt/flashbd/pkg/util/consterr"
)

//Error kinds, test for them with errors.Is
const (
	ErrRange      = consterr.ConstErr("Out of range of the device")
	ErrIO         = consterr.ConstErr("Device I/O failed")
	ErrResource   = consterr.ConstErr("Could not establish backing store")
	ErrNotErased  = consterr.ConstErr("Program into a region that was not erased")
	ErrMisaligned = consterr.ConstErr("Operation is not aligned to the device granularity")
	ErrClosed     = closedErr("Device is closed")
)

//closedErr is an I/O error kind of its own
type closedErr string

func (errstr closedErr) Error() string { return string(errstr) }

func (closedErr) Is(target error) bool { return target == ErrIO }

//Negative result codes as a C flash consumer expects them
const (
	CodeOK        = 0
	CodeIO        = -5
	CodeInval     = -22
	CodeNoSpace   = -28
	CodeNotErased = -84
)

//OpError describes a failed device operation. Kind is one of the Err* kinds
// and Err is the originating cause (often an *os.PathError)
type OpError struct {
	TraceEvent
	Kind error
	Err  error
}

//NewOpError returns nil if err is nil, otherwise an *OpError of kind for ev
func NewOpError(ev TraceEvent, kind, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{TraceEvent: ev, Kind: kind, Err: err}
}

func (oe *OpError) Error() string {
	return fmt.Sprintf("Could not %s: %s", oe.TraceEvent, oe.Err)
}

//Unwrap returns the originating cause
func (oe *OpError) Unwrap() error { return oe.Err }

//Is matches the error kind in addition to the wrapped cause
func (oe *OpError) Is(target error) bool {
	return oe.Kind != nil && errors.Is(oe.Kind, target)
}

//ErrorCode maps an operation result to a negative error code (0 on success)
func ErrorCode(err error) int {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrNotErased):
		return CodeNotErased
	case errors.Is(err, ErrRange), errors.Is(err, ErrMisaligned):
		return CodeInval
	case errors.Is(err, ErrResource):
		return CodeNoSpace
	default:
		return CodeIO
	}
}

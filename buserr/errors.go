// Package buserr defines the typed error kinds the bus core raises.
//
// Each kind is a sentinel wrapped with github.com/pkg/errors so that callers
// can both match with errors.Is(err, buserr.ErrUnknownApi) and, where the
// error originated from a recovered failure, recover a stack trace via
// fmt.Sprintf("%+v", err) for ResultMessage.trace.
package buserr

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel kinds. Wrap these with fmt.Errorf("...: %w", ErrX) or
// buserr.Wrap(ErrX, "...") to attach context while keeping errors.Is working.
var (
	ErrUnknownApi              = errors.New("unknown api")
	ErrInvalidApiRegistryEntry = errors.New("invalid api registry entry")
	ErrDuplicateApi            = errors.New("duplicate api")
	ErrEventNotFound           = errors.New("event not found")
	ErrProcedureNotFound       = errors.New("procedure not found")
	ErrInvalidParameters       = errors.New("invalid parameters")
	ErrNothingToListenFor      = errors.New("nothing to listen for")
	ErrInvalidBusPathConfig    = errors.New("invalid bus path configuration")
	ErrTransport               = errors.New("transport error")
	ErrRateLimited             = errors.New("rate limited")
	ErrRpcTimeout              = errors.New("rpc timeout")
	ErrRemote                  = errors.New("remote error")
	ErrSchemaNotFound          = errors.New("schema not found")
	ErrSchemaOnlyOnRoot        = errors.New("schema only available on root bus path")
)

// RemoteError is raised at the call site when a ResultMessage comes back
// with Error=true. It carries the remote peer's stringified result and
// stack trace so the caller can inspect both without re-parsing the message.
type RemoteError struct {
	Result string
	Trace  string
}

func (e *RemoteError) Error() string {
	if e.Trace != "" {
		return "remote error: " + e.Result + "\n" + e.Trace
	}
	return "remote error: " + e.Result
}

func (e *RemoteError) Unwrap() error {
	return ErrRemote
}

// NewRemoteError builds a RemoteError from a delivered ResultMessage's
// result/trace fields.
func NewRemoteError(result, trace string) *RemoteError {
	return &RemoteError{Result: result, Trace: trace}
}

// Wrap attaches a message to a sentinel kind while preserving errors.Is
// matching against it, and captures a stack trace at the call site.
func Wrap(kind error, message string) error {
	return errors.WithMessage(errors.WithStack(kind), message)
}

// Wrapf is Wrap with Printf-style formatting.
func Wrapf(kind error, format string, args ...interface{}) error {
	return errors.WithMessage(errors.WithStack(kind), fmt.Sprintf(format, args...))
}

// Is reports whether err matches kind, unwrapping any Wrap/Wrapf layers.
func Is(err, kind error) bool {
	return stderrors.Is(err, kind)
}

// Trace renders a full stack trace for err if pkg/errors attached one
// (via Wrap/Wrapf or errors.WithStack), otherwise just its message.
func Trace(err error) string {
	return fmt.Sprintf("%+v", err)
}

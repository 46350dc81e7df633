package pipeline

import "errors"

// InjectedFailure is the error returned for requests that land in a failure
// window of the cycle. It is an expected outcome, not a fault.
type InjectedFailure struct {
	Message  string
	Sequence uint64
}

func (e *InjectedFailure) Error() string { return e.Message }

// IsInjected reports whether err is, or wraps, an InjectedFailure.
func IsInjected(err error) bool {
	var f *InjectedFailure
	return errors.As(err, &f)
}

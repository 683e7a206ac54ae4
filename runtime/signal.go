package runtime

import "errors"

// Control signals are user-directed transfers of control, not failures.
// They travel through ordinary error returns so that call sites can match
// them with errors.As, but they must never be wrapped into a generic
// failure path: Step re-raises Exit/Rollback untouched, Flow consumes them.

// ExitSignal ends the flow immediately. The last successfully produced
// artifact is returned to the caller as-is.
type ExitSignal struct{}

func (*ExitSignal) Error() string {
	return "exit requested"
}

// RollbackSignal asks the flow to step back to the producer of the most
// recent history entry. Reason is free text supplied by the user.
type RollbackSignal struct {
	Reason string
}

func (s *RollbackSignal) Error() string {
	return "rollback requested: " + s.Reason
}

// RetrySignal asks the current step to re-run with additional feedback.
// It is consumed inside Step's loop and never reaches Flow.
type RetrySignal struct {
	Feedback string
}

func (s *RetrySignal) Error() string {
	return "retry requested: " + s.Feedback
}

// AsExit reports whether err carries an exit signal.
func AsExit(err error) bool {
	var sig *ExitSignal
	return errors.As(err, &sig)
}

// AsRollback extracts a rollback signal from err, if present.
func AsRollback(err error) (*RollbackSignal, bool) {
	var sig *RollbackSignal
	ok := errors.As(err, &sig)
	return sig, ok
}

// AsRetry extracts a retry signal from err, if present.
func AsRetry(err error) (*RetrySignal, bool) {
	var sig *RetrySignal
	ok := errors.As(err, &sig)
	return sig, ok
}

// IsControlSignal reports whether err is any of the three control signals.
func IsControlSignal(err error) bool {
	if AsExit(err) {
		return true
	}
	if _, ok := AsRollback(err); ok {
		return true
	}
	_, ok := AsRetry(err)
	return ok
}

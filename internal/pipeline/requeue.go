package pipeline

import "errors"

// Decision is the nack-time verdict attached to every processing failure.
type Decision int

const (
	DoNotRequeue Decision = iota
	Requeue
)

func (d Decision) String() string {
	if d == Requeue {
		return "requeue"
	}
	return "do-not-requeue"
}

// Requeuer is implemented by errors that know whether a retry can succeed.
type Requeuer interface {
	ShouldRequeue() Decision
}

// DecisionFor walks the error chain for the first Requeuer. Errors that do not
// carry a decision are treated as permanent.
func DecisionFor(err error) Decision {
	var r Requeuer
	if errors.As(err, &r) {
		return r.ShouldRequeue()
	}
	return DoNotRequeue
}

type classifiedError struct {
	err      error
	decision Decision
}

func (e *classifiedError) Error() string           { return e.err.Error() }
func (e *classifiedError) Unwrap() error           { return e.err }
func (e *classifiedError) ShouldRequeue() Decision { return e.decision }

// Transient marks err as worth retrying.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, decision: Requeue}
}

// Permanent marks err as never succeeding on retry.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, decision: DoNotRequeue}
}

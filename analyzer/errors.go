package analyzer

import (
	"github.com/mdobak/go-xerrors"
)

// Stage error kinds. ErrLoad, ErrEnvelope and ErrTempo fail the analysis;
// ErrKey only downgrades the key to "Unknown".
var (
	ErrLoad     = xerrors.Message("load audio")
	ErrEnvelope = xerrors.Message("onset envelope")
	ErrTempo    = xerrors.Message("tempo estimation")
	ErrKey      = xerrors.Message("key estimation")
)

// StageError ties a failure cause to the analysis stage it happened in.
// errors.Is matches both the stage kind and the cause.
type StageError struct {
	Kind  error
	cause error
}

// stageError records a stack trace for cause and tags it with kind
func stageError(kind, cause error) *StageError {
	return &StageError{Kind: kind, cause: xerrors.New(cause)}
}

func (e *StageError) Error() string {
	return e.Kind.Error() + ": " + e.cause.Error()
}

func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.cause}
}

package cmd

import (
	"Netlab/pkg/errdefs"
	"Netlab/pkg/reconcile"
	"errors"
)

// Exit codes.
const (
	ExitOK         = 0
	ExitUsage      = 1
	ExitInvalid    = 2
	ExitApply      = 3 // apply failed, rollback clean
	ExitIncomplete = 4 // rollback or teardown left state behind
	ExitPrivilege  = 5
)

// ExitCode maps the error Execute returned to the process exit status.
func ExitCode(err error) int {
	var aerr *reconcile.ApplyError
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, errdefs.ErrValidation):
		return ExitInvalid
	case errors.Is(err, errdefs.ErrRollback):
		return ExitIncomplete
	case errors.Is(err, errdefs.ErrPrivilege):
		return ExitPrivilege
	case errors.As(err, &aerr):
		return ExitApply
	}
	return ExitUsage
}

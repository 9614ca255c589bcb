package errdefs

import (
	"context"
	"errors"
	"fmt"
	"golang.org/x/sys/unix"
	"strings"
)

// Kind classifies a failure by how the reconciler must react to it.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAlreadySatisfied
	KindAbsent
	KindPrivilege
	KindConflict
	KindTransient
	KindRejected
	KindCanceled
	KindRollback
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown",
	KindValidation:       "validation",
	KindAlreadySatisfied: "already-satisfied",
	KindAbsent:           "absent",
	KindPrivilege:        "privilege",
	KindConflict:         "conflict",
	KindTransient:        "transient",
	KindRejected:         "rejected",
	KindCanceled:         "canceled",
	KindRollback:         "rollback",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is an OS-facing failure tagged with its Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return e.Kind.String()
	case e.Op == "":
		return e.Err.Error()
	case e.Err == nil:
		return e.Op + ": " + e.Kind.String()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels below, so errors.Is(err, ErrConflict)
// finds a conflict anywhere in a wrapped or joined error tree.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrAlreadySatisfied = &Error{Kind: KindAlreadySatisfied}
	ErrAbsent           = &Error{Kind: KindAbsent}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrTransient        = &Error{Kind: KindTransient}
	ErrRejected         = &Error{Kind: KindRejected}
	ErrCanceled         = &Error{Kind: KindCanceled}
	ErrRollback         = &Error{Kind: KindRollback}
	ErrValidation       = &Error{Kind: KindValidation}
)

// ErrPrivilege is returned when the process lacks the capabilities needed
// to manage network namespaces and interfaces.
var ErrPrivilege = &Error{Kind: KindPrivilege}

// New tags err with kind. A nil err is allowed.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Satisfied reports that the resource is already in the desired state.
func Satisfied(format string, args ...interface{}) error {
	return newf(KindAlreadySatisfied, format, args...)
}

// Absent reports that the resource to remove or modify does not exist.
func Absent(format string, args ...interface{}) error {
	return newf(KindAbsent, format, args...)
}

// Conflict reports a resource that exists in an incompatible state.
func Conflict(format string, args ...interface{}) error {
	return newf(KindConflict, format, args...)
}

// Rejected reports any other refusal by the OS.
func Rejected(format string, args ...interface{}) error {
	return newf(KindRejected, format, args...)
}

// Transient reports a failure worth retrying.
func Transient(format string, args ...interface{}) error {
	return newf(KindTransient, format, args...)
}

// FromOS tags a raw OS error with its classified kind. Errors that already
// carry a kind are returned with op prefixed but their kind kept.
func FromOS(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return &Error{Kind: e.Kind, Op: op, Err: err}
	}
	return &Error{Kind: Classify(err), Op: op, Err: err}
}

// KindOf returns the kind of err: the first tagged kind found in its chain,
// or the errno classification of the raw error.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Classify(err)
}

var errnoKinds = []struct {
	errno unix.Errno
	kind  Kind
}{
	{unix.EPERM, KindPrivilege},
	{unix.EACCES, KindPrivilege},
	{unix.EAGAIN, KindTransient},
	{unix.EBUSY, KindTransient},
	{unix.EINTR, KindTransient},
	{unix.ENOBUFS, KindTransient},
	{unix.ETIMEDOUT, KindTransient},
	{unix.ENOENT, KindAbsent},
	{unix.ENODEV, KindAbsent},
	{unix.ESRCH, KindAbsent},
	{unix.ENXIO, KindAbsent},
	{unix.EADDRNOTAVAIL, KindAbsent},
	{unix.EEXIST, KindConflict},
	{unix.ENOTEMPTY, KindConflict},
}

// Classify maps a raw error to a Kind using errors.Is on errno values.
// Unrecognized errors are KindRejected.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	for _, ek := range errnoKinds {
		if errors.Is(err, ek.errno) {
			return ek.kind
		}
	}
	// iptables reports through exit status and stderr text.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Permission denied"), strings.Contains(msg, "Operation not permitted"):
		return KindPrivilege
	case strings.Contains(msg, "Resource temporarily unavailable"), strings.Contains(msg, "xtables lock"):
		return KindTransient
	}
	return KindRejected
}

// Violation is one structural problem found in a topology.
type Violation struct {
	Rule    string
	Subject string
	Message string
}

func (v Violation) String() string {
	return fmt.Sprintf("[%s] %s: %s", v.Rule, v.Subject, v.Message)
}

// ValidationError carries every violation found, not just the first.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 1 {
		return "invalid topology: " + e.Violations[0].String()
	}
	lines := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		lines = append(lines, "\t* "+v.String())
	}
	return fmt.Sprintf("invalid topology: %d violations:\n%s", len(e.Violations), strings.Join(lines, "\n"))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

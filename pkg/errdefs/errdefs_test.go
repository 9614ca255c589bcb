package errdefs

import (
	"context"
	"errors"
	"fmt"
	"github.com/hashicorp/go-multierror"
	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
	"os"
	"testing"
)

func TestClassify(t *testing.T) {
	type testcase struct {
		input  error
		expect Kind
	}

	var tests = []testcase{
		{nil, KindUnknown},
		{context.Canceled, KindCanceled},
		{context.DeadlineExceeded, KindCanceled},
		{errors.New("exit status 4: iptables: Resource temporarily unavailable."), KindTransient},
		{errors.New("exit status 1: iptables v1.8.7: can't initialize iptables table `filter': Permission denied"), KindPrivilege},
		{errors.New("something odd"), KindRejected},
		{unix.EINVAL, KindRejected},
	}
	for _, ek := range errnoKinds {
		tests = append(tests, testcase{ek.errno, ek.kind})
		// wrapped the way os and pkg/errors wrap syscall failures
		tests = append(tests, testcase{&os.SyscallError{Syscall: "sendmsg", Err: ek.errno}, ek.kind})
		tests = append(tests, testcase{pkgerrors.Wrap(ek.errno, "netlink"), ek.kind})
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v", tt.input), func(t *testing.T) {
			assert.Equal(t, tt.expect, Classify(tt.input))
		})
	}
}

func TestKindOf(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(KindAlreadySatisfied, KindOf(Satisfied("namespace %s exists", "a")))
	assert.Equal(KindConflict, KindOf(pkgerrors.Wrap(Conflict("x"), "outer")))
	assert.Equal(KindAbsent, KindOf(unix.ENODEV))
	assert.Equal(KindPrivilege, KindOf(FromOS("add link", unix.EPERM)))

	// FromOS keeps an existing tag
	assert.Equal(KindAlreadySatisfied, KindOf(FromOS("add link", Satisfied("present"))))
	assert.Nil(FromOS("noop", nil))
}

func TestIsThroughJoinedErrors(t *testing.T) {
	assert := assert.New(t)

	var merr *multierror.Error
	merr = multierror.Append(merr, Absent("gone"))
	merr = multierror.Append(merr, FromOS("delete route", unix.EBUSY))

	joined := errors.Join(FromOS("add route", unix.EEXIST), New(KindRollback, "rollback", merr))

	assert.True(errors.Is(joined, ErrConflict))
	assert.True(errors.Is(joined, ErrRollback))
	assert.True(errors.Is(joined, ErrTransient))
	assert.False(errors.Is(joined, ErrPrivilege))
	assert.True(errors.Is(FromOS("x", unix.EACCES), ErrPrivilege))
}

func TestValidationError(t *testing.T) {
	assert := assert.New(t)

	err := &ValidationError{Violations: []Violation{
		{Rule: "duplicate-namespace", Subject: "host1", Message: "declared twice"},
		{Rule: "route-next-hop", Subject: "host2 0.0.0.0/0", Message: "unreachable"},
	}}
	assert.True(errors.Is(err, ErrValidation))
	assert.Contains(err.Error(), "2 violations")
	assert.Contains(err.Error(), "[duplicate-namespace] host1: declared twice")

	single := &ValidationError{Violations: err.Violations[:1]}
	assert.Equal("invalid topology: [duplicate-namespace] host1: declared twice", single.Error())
}

// poll runs fixed-interval status checks against a remote resource until a
// terminal condition holds.
//
// Every loop in this module that waits on AWS goes through 'Until', so all of
// them share the same timeout semantics: a zero timeout waits until the
// condition holds or the context is cancelled, a positive timeout fails with
// 'ErrTimeout'.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

var ErrTimeout = errors.New("timed out waiting for condition")

// Condition reports whether polling is done. A non-nil error stops polling
// and is returned from 'Until' unchanged.
type Condition = wait.ConditionWithContextFunc

// Until invokes 'cond' immediately, then once every 'interval' until it
// reports done or returns an error.
func Until(ctx context.Context, interval, timeout time.Duration, cond Condition) error {
	var err error
	if timeout > 0 {
		err = wait.PollUntilContextTimeout(ctx, interval, timeout, true, cond)
	} else {
		err = wait.PollUntilContextCancel(ctx, interval, true, cond)
	}
	if err == nil {
		return nil
	}
	// The caller's context is still live, so the interruption came from our
	// own deadline.
	if wait.Interrupted(err) && ctx.Err() == nil {
		return fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
	return err
}

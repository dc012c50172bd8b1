package snapshot

import (
	"context"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/chainguard-dev/ec2ops/internal/poll"
)

// Request tracks a batch of snapshots sharing a description. Volumes leave
// 'Pending' once their snapshot reports "100%" and never return.
type Request struct {
	Description string
	Pending     []Volume
}

// Done reports whether every snapshot in the batch has completed.
func (r *Request) Done() bool {
	return len(r.Pending) == 0
}

// check queries each pending volume once, dropping the completed ones.
func (r *Request) check(ctx context.Context, client EC2API) error {
	log := clog.FromContext(ctx)
	pending := r.Pending[:0]
	for i, v := range r.Pending {
		progress, err := Progress(ctx, client, v, r.Description)
		if err != nil {
			// Keep the unchecked volumes.
			r.Pending = append(pending, r.Pending[i:]...)
			return err
		}
		if progress == progressComplete {
			log.Info("snapshot complete", "volume_id", v.VolumeID, "mount_point", v.DeviceName)
			continue
		}
		log.Info("snapshot in progress",
			"volume_id", v.VolumeID,
			"mount_point", v.DeviceName,
			"progress", progress,
		)
		pending = append(pending, v)
	}
	r.Pending = pending
	return nil
}

// Await polls every 'interval' until every snapshot in 'r' completes. A zero
// 'timeout' waits until 'ctx' is done.
func Await(ctx context.Context, client EC2API, r *Request, interval, timeout time.Duration) error {
	return poll.Until(ctx, interval, timeout, func(ctx context.Context) (bool, error) {
		if err := r.check(ctx, client); err != nil {
			return false, err
		}
		return r.Done(), nil
	})
}

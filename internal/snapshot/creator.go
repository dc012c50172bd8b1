package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/chainguard-dev/ec2ops/internal/o11y"
)

var ErrConfig = fmt.Errorf("invalid snapshot configuration")

const defaultPollInterval = 10 * time.Second

// Config describes a snapshot run.
type Config struct {
	Instances   []string
	Description string
	// PollInterval is the time between progress checks. Defaults to 10s.
	PollInterval time.Duration
	// PollTimeout bounds the wait for each instance's snapshots. Zero waits
	// indefinitely.
	PollTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
}

func (c Config) validate() error {
	if len(c.Instances) == 0 {
		return fmt.Errorf("%w: at least one instance ID is required", ErrConfig)
	}
	for _, id := range c.Instances {
		if id == "" {
			return fmt.Errorf("%w: empty instance ID", ErrConfig)
		}
	}
	if c.Description == "" {
		return fmt.Errorf("%w: a description is required", ErrConfig)
	}
	return nil
}

// Creator snapshots every volume of each configured instance.
type Creator struct {
	client EC2API
	config Config
}

func NewCreator(client EC2API, cfg Config) (*Creator, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Creator{client: client, config: cfg}, nil
}

// Run processes the instances in order. Each instance's snapshots are all
// started, then awaited, before moving on to the next instance. The first
// error aborts the run.
func (c *Creator) Run(ctx context.Context) error {
	for _, id := range c.config.Instances {
		if err := c.snapshotInstance(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (c *Creator) snapshotInstance(ctx context.Context, instanceID string) (err error) {
	ctx, span := o11y.Start(ctx, "snapshot.instance", attribute.String(o11y.AttrInstanceID, instanceID))
	defer func() { o11y.Finish(span, err) }()
	log := clog.FromContext(ctx).With("instance_id", instanceID)
	ctx = clog.WithLogger(ctx, log)

	volumes, err := Volumes(ctx, c.client, instanceID)
	if err != nil {
		return err
	}
	log.Info("found attached volumes", "count", len(volumes))

	req := &Request{Description: c.config.Description}
	for _, v := range volumes {
		if _, err := Create(ctx, c.client, v, c.config.Description); err != nil {
			return err
		}
		req.Pending = append(req.Pending, v)
	}
	if err := Await(ctx, c.client, req, c.config.PollInterval, c.config.PollTimeout); err != nil {
		return fmt.Errorf("snapshots of %s: %w", instanceID, err)
	}
	log.Info("all snapshots complete", "count", len(volumes))
	return nil
}

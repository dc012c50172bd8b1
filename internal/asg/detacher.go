package asg

import (
	"context"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/chainguard-dev/ec2ops/internal/instance"
	"github.com/chainguard-dev/ec2ops/internal/o11y"
)

// Collector gathers diagnostics from a host before it leaves service.
type Collector interface {
	Collect(ctx context.Context, host string) error
}

var ErrConfig = fmt.Errorf("invalid detach configuration")

const defaultPollInterval = 30 * time.Second

type Config struct {
	InstanceID string
	// PollInterval is the time between target health checks. Defaults to 30s.
	PollInterval time.Duration
	// PollTimeout bounds the drain wait. Zero waits indefinitely.
	PollTimeout time.Duration
	// SkipLogs skips diagnostics collection.
	SkipLogs bool
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
}

func (c Config) validate() error {
	if c.InstanceID == "" {
		return fmt.Errorf("%w: an instance ID is required", ErrConfig)
	}
	return nil
}

// Detacher runs the full take-out-of-service sequence for one instance.
type Detacher struct {
	ec2         EC2API
	autoscaling AutoScalingAPI
	elb         ELBAPI
	collector   Collector
	config      Config
}

func NewDetacher(ec2c EC2API, asc AutoScalingAPI, elbc ELBAPI, collector Collector, cfg Config) (*Detacher, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if collector == nil && !cfg.SkipLogs {
		return nil, ErrCollectorUnset
	}
	return &Detacher{
		ec2:         ec2c,
		autoscaling: asc,
		elb:         elbc,
		collector:   collector,
		config:      cfg,
	}, nil
}

// Run resolves the instance's group, collects diagnostics, detaches it, waits
// for its target group to drain and terminates it. Termination never happens
// while the instance is still registered with the target group.
func (d *Detacher) Run(ctx context.Context) (err error) {
	id := d.config.InstanceID
	ctx, span := o11y.Start(ctx, "asg.detach", attribute.String(o11y.AttrInstanceID, id))
	defer func() { o11y.Finish(span, err) }()

	b, err := Resolve(ctx, d.ec2, d.autoscaling, id)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String(o11y.AttrGroupName, b.GroupName))
	log := clog.FromContext(ctx).With("instance_id", id, "asg", b.GroupName)
	ctx = clog.WithLogger(ctx, log)
	log.Info("resolved instance",
		"private_ip", b.PrivateIP,
		"os", b.OS,
		"target_group", b.TargetGroupARN,
	)

	if d.config.SkipLogs {
		log.Info("skipping log collection")
	} else if err := d.collector.Collect(ctx, b.PrivateIP); err != nil {
		return err
	}

	if err := Detach(ctx, d.autoscaling, b); err != nil {
		return err
	}
	if err := AwaitDeregistered(ctx, d.elb, b, d.config.PollInterval, d.config.PollTimeout); err != nil {
		return err
	}
	return instance.Terminate(ctx, d.ec2, id)
}

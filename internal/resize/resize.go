// resize changes the instance type of an EBS-backed instance by stopping it,
// modifying its type and starting it again.
package resize

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/chainguard-dev/ec2ops/internal/instance"
	"github.com/chainguard-dev/ec2ops/internal/o11y"
)

// EC2API is the subset of '*ec2.Client' used by this package.
type EC2API interface {
	instance.DescribeAPI
	DescribeInstanceTypes(ctx context.Context, params *ec2.DescribeInstanceTypesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceTypesOutput, error)
	StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error)
	ModifyInstanceAttribute(ctx context.Context, params *ec2.ModifyInstanceAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifyInstanceAttributeOutput, error)
	StartInstances(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error)
}

var (
	ErrConfig       = fmt.Errorf("invalid resize configuration")
	ErrInstanceType = fmt.Errorf("unknown instance type")
	ErrStop         = fmt.Errorf("failed to stop instance")
	ErrModify       = fmt.Errorf("failed to modify instance type")
	ErrStart        = fmt.Errorf("failed to start instance")
)

const defaultPollInterval = 10 * time.Second

type Config struct {
	InstanceID   string
	InstanceType string
	// PollInterval is the time between state checks. Defaults to 10s.
	PollInterval time.Duration
	// PollTimeout bounds each state wait. Zero waits indefinitely.
	PollTimeout time.Duration
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
	if c.InstanceType == "" {
		return fmt.Errorf("%w: a target instance type is required", ErrConfig)
	}
	return nil
}

type Resizer struct {
	client EC2API
	config Config
}

func NewResizer(client EC2API, cfg Config) (*Resizer, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Resizer{client: client, config: cfg}, nil
}

// Run validates the target type, then stops the instance, waits for it to
// stop, changes its type, starts it and waits for it to run. Any failure
// stops the sequence where it is; nothing is rolled back.
func (r *Resizer) Run(ctx context.Context) (err error) {
	id, size := r.config.InstanceID, r.config.InstanceType
	ctx, span := o11y.Start(ctx, "resize",
		attribute.String(o11y.AttrInstanceID, id),
		attribute.String(o11y.AttrInstanceType, size),
	)
	defer func() { o11y.Finish(span, err) }()
	log := clog.FromContext(ctx).With("instance_id", id, "instance_type", size)
	ctx = clog.WithLogger(ctx, log)

	if err := r.validateType(ctx); err != nil {
		return err
	}

	log.Info("stopping instance")
	if _, err := r.client.StopInstances(ctx, &ec2.StopInstancesInput{
		InstanceIds: []string{id},
	}); err != nil {
		return fmt.Errorf("%w %s: %w", ErrStop, id, err)
	}
	if err := r.await(ctx, types.InstanceStateNameStopped); err != nil {
		return err
	}

	log.Info("changing instance type")
	if _, err := r.client.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
		InstanceId:   aws.String(id),
		InstanceType: &types.AttributeValue{Value: aws.String(size)},
	}); err != nil {
		return fmt.Errorf("%w %s: %w", ErrModify, id, err)
	}

	log.Info("starting instance")
	if _, err := r.client.StartInstances(ctx, &ec2.StartInstancesInput{
		InstanceIds: []string{id},
	}); err != nil {
		return fmt.Errorf("%w %s: %w", ErrStart, id, err)
	}
	if err := r.await(ctx, types.InstanceStateNameRunning); err != nil {
		return err
	}
	log.Info("resize complete")
	return nil
}

// validateType rejects instance types the region doesn't offer before the
// instance is touched.
func (r *Resizer) validateType(ctx context.Context) error {
	size := r.config.InstanceType
	out, err := r.client.DescribeInstanceTypes(ctx, &ec2.DescribeInstanceTypesInput{
		InstanceTypes: []types.InstanceType{types.InstanceType(size)},
	})
	if err != nil {
		return fmt.Errorf("%w %q: %w", ErrInstanceType, size, err)
	}
	if len(out.InstanceTypes) == 0 {
		return fmt.Errorf("%w %q", ErrInstanceType, size)
	}
	return nil
}

func (r *Resizer) await(ctx context.Context, state types.InstanceStateName) error {
	return instance.AwaitState(ctx, r.client, r.config.InstanceID, state, r.config.PollInterval, r.config.PollTimeout)
}

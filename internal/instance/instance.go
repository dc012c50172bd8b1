// instance holds the EC2 instance lookups and state waits shared by the
// resize and ASG workflows.
package instance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/chainguard-dev/clog"

	"github.com/chainguard-dev/ec2ops/internal/poll"
)

// DescribeAPI is the subset of '*ec2.Client' used to inspect instances.
type DescribeAPI interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// TerminateAPI is the subset of '*ec2.Client' used to terminate instances.
type TerminateAPI interface {
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

var (
	ErrDescribe       = fmt.Errorf("failed to describe EC2 instance")
	ErrNoReservations = fmt.Errorf("describe instances call produced no " +
		"errors, but returned no reservations")
	ErrNoInstances = fmt.Errorf("describe instances call produced no " +
		"errors, but returned no instances")
	ErrStateNil = fmt.Errorf("describe instances call produced no errors, " +
		"but the returned instance state was nil")
)

// Describe fetches a single instance by ID.
func Describe(ctx context.Context, client DescribeAPI, instanceID string) (*types.Instance, error) {
	result, err := client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrDescribe, instanceID, err)
	}
	if len(result.Reservations) == 0 {
		return nil, ErrNoReservations
	}
	reservation := result.Reservations[0]
	if len(reservation.Instances) == 0 {
		return nil, ErrNoInstances
	}
	return &reservation.Instances[0], nil
}

// State returns the current lifecycle state of an instance.
func State(ctx context.Context, client DescribeAPI, instanceID string) (types.InstanceStateName, error) {
	instance, err := Describe(ctx, client, instanceID)
	if err != nil {
		return "", err
	}
	if instance.State == nil {
		return "", ErrStateNil
	}
	return instance.State.Name, nil
}

// AwaitState re-fetches the instance state every 'interval' until it equals
// 'desired'. A zero 'timeout' waits until 'ctx' is done.
func AwaitState(
	ctx context.Context,
	client DescribeAPI,
	instanceID string,
	desired types.InstanceStateName,
	interval, timeout time.Duration,
) error {
	log := clog.FromContext(ctx).With("instance_id", instanceID, "desired", desired)
	err := poll.Until(ctx, interval, timeout, func(ctx context.Context) (bool, error) {
		current, err := State(ctx, client, instanceID)
		if err != nil {
			return false, err
		}
		if current != desired {
			log.Info("instance not yet in desired state, waiting longer", "state", current)
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("waiting for instance %s to be %s: %w", instanceID, desired, err)
	}
	log.Info("instance reached desired state")
	return nil
}

var ErrTerminate = fmt.Errorf("failed to terminate EC2 instance")

func Terminate(ctx context.Context, client TerminateAPI, instanceID string) error {
	_, err := client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrTerminate, instanceID, err)
	}
	clog.FromContext(ctx).Info("instance termination requested", "instance_id", instanceID)
	return nil
}

// Tag returns the value of the last tag whose key contains 'key'. Substring
// matching is how the fleet's tags have always been looked up, so prefixed
// keys such as 'aws:autoscaling:groupName' or 'team:Owner' still resolve.
func Tag(tags []types.Tag, key string) (string, bool) {
	var (
		value string
		found bool
	)
	for _, tag := range tags {
		if strings.Contains(aws.ToString(tag.Key), key) {
			value, found = aws.ToString(tag.Value), true
		}
	}
	return value, found
}

// TagFold is like 'Tag' but matches the whole key, ignoring case.
func TagFold(tags []types.Tag, key string) (string, bool) {
	var (
		value string
		found bool
	)
	for _, tag := range tags {
		if strings.EqualFold(aws.ToString(tag.Key), key) {
			value, found = aws.ToString(tag.Value), true
		}
	}
	return value, found
}

// asg takes an instance out of its Auto Scaling group: diagnostics are
// collected, the instance is detached (the group launches a replacement), its
// target group is allowed to drain and it is then terminated.
package asg

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	elb "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/chainguard-dev/clog"

	"github.com/chainguard-dev/ec2ops/internal/instance"
	"github.com/chainguard-dev/ec2ops/internal/poll"
)

// EC2API is the subset of '*ec2.Client' used by this package.
type EC2API interface {
	instance.DescribeAPI
	instance.TerminateAPI
}

// AutoScalingAPI is the subset of '*autoscaling.Client' used by this package.
type AutoScalingAPI interface {
	DetachInstances(ctx context.Context, params *autoscaling.DetachInstancesInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DetachInstancesOutput, error)
	DescribeAutoScalingGroups(ctx context.Context, params *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error)
}

// ELBAPI is the subset of '*elasticloadbalancingv2.Client' used by this
// package.
type ELBAPI interface {
	DescribeTargetHealth(ctx context.Context, params *elb.DescribeTargetHealthInput, optFns ...func(*elb.Options)) (*elb.DescribeTargetHealthOutput, error)
}

const (
	tagKeyGroupName = "aws:autoscaling:groupName"
	tagKeyOS        = "os"
)

var (
	ErrNotInGroup     = fmt.Errorf("instance is not a member of an auto scaling group")
	ErrNoPrivateIP    = fmt.Errorf("instance has no private IP address")
	ErrDescribeGroup  = fmt.Errorf("failed to describe auto scaling group")
	ErrGroupNotFound  = fmt.Errorf("auto scaling group not found")
	ErrDetach         = fmt.Errorf("failed to detach instance from auto scaling group")
	ErrTargetHealth   = fmt.Errorf("failed to describe target health")
	ErrCollectorUnset = fmt.Errorf("log collection requested without a collector")
)

// Binding ties an instance to the group and target group it is leaving.
type Binding struct {
	InstanceID string
	GroupName  string
	// TargetGroupARN is empty when the group is not attached to a target
	// group.
	TargetGroupARN string
	PrivateIP      string
	OS             string
}

// Resolve looks up everything needed to take 'instanceID' out of service.
//
// The group comes from the 'aws:autoscaling:groupName' tag. The IP is the
// last private address of the first network interface. The target group is
// the last one attached to the group.
func Resolve(ctx context.Context, ec2c instance.DescribeAPI, asc AutoScalingAPI, instanceID string) (Binding, error) {
	inst, err := instance.Describe(ctx, ec2c, instanceID)
	if err != nil {
		return Binding{}, err
	}
	b := Binding{InstanceID: instanceID}
	var ok bool
	if b.GroupName, ok = instance.Tag(inst.Tags, tagKeyGroupName); !ok || b.GroupName == "" {
		return Binding{}, fmt.Errorf("%w: %s", ErrNotInGroup, instanceID)
	}
	b.OS, _ = instance.TagFold(inst.Tags, tagKeyOS)
	if b.PrivateIP = privateIP(inst.NetworkInterfaces); b.PrivateIP == "" {
		return Binding{}, fmt.Errorf("%w: %s", ErrNoPrivateIP, instanceID)
	}

	out, err := asc.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{b.GroupName},
	})
	if err != nil {
		return Binding{}, fmt.Errorf("%w %s: %w", ErrDescribeGroup, b.GroupName, err)
	}
	if len(out.AutoScalingGroups) == 0 {
		return Binding{}, fmt.Errorf("%w: %s", ErrGroupNotFound, b.GroupName)
	}
	if arns := out.AutoScalingGroups[0].TargetGroupARNs; len(arns) > 0 {
		b.TargetGroupARN = arns[len(arns)-1]
	}
	return b, nil
}

func privateIP(ifaces []types.InstanceNetworkInterface) string {
	if len(ifaces) == 0 {
		return ""
	}
	ip := ""
	for _, addr := range ifaces[0].PrivateIpAddresses {
		if addr.PrivateIpAddress != nil {
			ip = *addr.PrivateIpAddress
		}
	}
	if ip == "" {
		ip = aws.ToString(ifaces[0].PrivateIpAddress)
	}
	return ip
}

// Detach removes the instance from its group. The group's desired capacity
// is never decremented, so the group launches a replacement.
func Detach(ctx context.Context, client AutoScalingAPI, b Binding) error {
	_, err := client.DetachInstances(ctx, &autoscaling.DetachInstancesInput{
		AutoScalingGroupName:           aws.String(b.GroupName),
		InstanceIds:                    []string{b.InstanceID},
		ShouldDecrementDesiredCapacity: aws.Bool(false),
	})
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrDetach, b.GroupName, err)
	}
	clog.FromContext(ctx).Info("instance detached", "instance_id", b.InstanceID, "asg", b.GroupName)
	return nil
}

// AwaitDeregistered polls the target group every 'interval' until the
// instance no longer appears among its targets, in any state.
func AwaitDeregistered(ctx context.Context, client ELBAPI, b Binding, interval, timeout time.Duration) error {
	log := clog.FromContext(ctx).With("instance_id", b.InstanceID, "target_group", b.TargetGroupARN)
	if b.TargetGroupARN == "" {
		log.Warn("group has no target group, nothing to drain")
		return nil
	}
	err := poll.Until(ctx, interval, timeout, func(ctx context.Context) (bool, error) {
		out, err := client.DescribeTargetHealth(ctx, &elb.DescribeTargetHealthInput{
			TargetGroupArn: aws.String(b.TargetGroupARN),
		})
		if err != nil {
			return false, fmt.Errorf("%w: %w", ErrTargetHealth, err)
		}
		for _, desc := range out.TargetHealthDescriptions {
			if desc.Target == nil || aws.ToString(desc.Target.Id) != b.InstanceID {
				continue
			}
			state := ""
			if desc.TargetHealth != nil {
				state = string(desc.TargetHealth.State)
			}
			log.Info("instance still registered, waiting longer", "state", state)
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("waiting for %s to leave %s: %w", b.InstanceID, b.TargetGroupARN, err)
	}
	log.Info("instance deregistered from target group")
	return nil
}

var _ EC2API = (*ec2.Client)(nil)

package instance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainguard-dev/ec2ops/internal/poll"
)

// mockEC2Client replays a fixed sequence of instance states.
type mockEC2Client struct {
	states       []types.InstanceStateName
	describeErr  error
	terminateErr error

	// Track calls for testing.
	describeCalls int
	terminated    []string
}

func (m *mockEC2Client) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	m.describeCalls++
	if m.describeErr != nil {
		return nil, m.describeErr
	}
	i := min(m.describeCalls-1, len(m.states)-1)
	return &ec2.DescribeInstancesOutput{
		Reservations: []types.Reservation{{
			Instances: []types.Instance{{
				InstanceId: aws.String(params.InstanceIds[0]),
				State:      &types.InstanceState{Name: m.states[i]},
			}},
		}},
	}, nil
}

func (m *mockEC2Client) TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	if m.terminateErr != nil {
		return nil, m.terminateErr
	}
	m.terminated = append(m.terminated, params.InstanceIds...)
	return &ec2.TerminateInstancesOutput{}, nil
}

func TestState(t *testing.T) {
	t.Run("returns current state", func(t *testing.T) {
		client := &mockEC2Client{states: []types.InstanceStateName{types.InstanceStateNameRunning}}
		state, err := State(t.Context(), client, "i-0abc")
		require.NoError(t, err)
		assert.Equal(t, types.InstanceStateNameRunning, state)
	})
	t.Run("wraps describe failures", func(t *testing.T) {
		client := &mockEC2Client{describeErr: errors.New("InvalidInstanceID.NotFound")}
		_, err := State(t.Context(), client, "i-0abc")
		require.ErrorIs(t, err, ErrDescribe)
	})
}

func TestDescribeEmpty(t *testing.T) {
	client := describeFunc(func() *ec2.DescribeInstancesOutput {
		return &ec2.DescribeInstancesOutput{}
	})
	_, err := Describe(t.Context(), client, "i-0abc")
	require.ErrorIs(t, err, ErrNoReservations)

	client = describeFunc(func() *ec2.DescribeInstancesOutput {
		return &ec2.DescribeInstancesOutput{Reservations: []types.Reservation{{}}}
	})
	_, err = Describe(t.Context(), client, "i-0abc")
	require.ErrorIs(t, err, ErrNoInstances)

	client = describeFunc(func() *ec2.DescribeInstancesOutput {
		return &ec2.DescribeInstancesOutput{Reservations: []types.Reservation{{
			Instances: []types.Instance{{}},
		}}}
	})
	_, err = State(t.Context(), client, "i-0abc")
	require.ErrorIs(t, err, ErrStateNil)
}

type describeFunc func() *ec2.DescribeInstancesOutput

func (f describeFunc) DescribeInstances(context.Context, *ec2.DescribeInstancesInput, ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	return f(), nil
}

func TestAwaitState(t *testing.T) {
	t.Run("polls until desired state", func(t *testing.T) {
		client := &mockEC2Client{states: []types.InstanceStateName{
			types.InstanceStateNameStopping,
			types.InstanceStateNameStopping,
			types.InstanceStateNameStopped,
		}}
		err := AwaitState(t.Context(), client, "i-0abc", types.InstanceStateNameStopped, time.Millisecond, 0)
		require.NoError(t, err)
		assert.Equal(t, 3, client.describeCalls)
	})
	t.Run("times out", func(t *testing.T) {
		client := &mockEC2Client{states: []types.InstanceStateName{types.InstanceStateNamePending}}
		err := AwaitState(t.Context(), client, "i-0abc", types.InstanceStateNameRunning, time.Millisecond, 20*time.Millisecond)
		require.ErrorIs(t, err, poll.ErrTimeout)
	})
	t.Run("describe failure stops polling", func(t *testing.T) {
		client := &mockEC2Client{describeErr: errors.New("throttled")}
		err := AwaitState(t.Context(), client, "i-0abc", types.InstanceStateNameRunning, time.Millisecond, 0)
		require.ErrorIs(t, err, ErrDescribe)
		assert.Equal(t, 1, client.describeCalls)
	})
}

func TestTerminate(t *testing.T) {
	client := &mockEC2Client{}
	require.NoError(t, Terminate(t.Context(), client, "i-0abc"))
	assert.Equal(t, []string{"i-0abc"}, client.terminated)

	client = &mockEC2Client{terminateErr: errors.New("UnauthorizedOperation")}
	require.ErrorIs(t, Terminate(t.Context(), client, "i-0abc"), ErrTerminate)
}

func TestTag(t *testing.T) {
	tags := []types.Tag{
		{Key: aws.String("aws:autoscaling:groupName"), Value: aws.String("web-asg")},
		{Key: aws.String("OS"), Value: aws.String("centos7")},
		{Key: aws.String("Name"), Value: aws.String("web-1")},
		{Key: aws.String("team:Name"), Value: aws.String("web-team")},
		{Key: nil, Value: aws.String("dangling")},
	}

	v, ok := Tag(tags, "aws:autoscaling:groupName")
	assert.True(t, ok)
	assert.Equal(t, "web-asg", v)

	// The last matching key wins.
	v, ok = Tag(tags, "Name")
	assert.True(t, ok)
	assert.Equal(t, "web-team", v)

	_, ok = Tag(tags, "Lifecycle")
	assert.False(t, ok)

	v, ok = TagFold(tags, "os")
	assert.True(t, ok)
	assert.Equal(t, "centos7", v)
}

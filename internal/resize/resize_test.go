package resize

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainguard-dev/ec2ops/internal/poll"
)

const (
	opDescribeInstanceTypes   = "DescribeInstanceTypes"
	opStopInstances           = "StopInstances"
	opModifyInstanceAttribute = "ModifyInstanceAttribute"
	opStartInstances          = "StartInstances"
)

// mockEC2Client simulates an instance's lifecycle. After a stop or start
// request, that many describes report the intermediate state before the
// final state is reached.
type mockEC2Client struct {
	state            types.InstanceStateName
	instanceType     string
	stopTransitions  int
	startTransitions int
	pending          []types.InstanceStateName

	unknownTypes bool
	stopErr      error
	modifyErr    error
	startErr     error

	// Track operations for testing. Describes are recorded with the state
	// they returned.
	operations []string
	modified   *ec2.ModifyInstanceAttributeInput
}

func (m *mockEC2Client) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if len(m.pending) > 0 {
		m.state, m.pending = m.pending[0], m.pending[1:]
	}
	m.operations = append(m.operations, "DescribeInstances:"+string(m.state))
	return &ec2.DescribeInstancesOutput{
		Reservations: []types.Reservation{{Instances: []types.Instance{{
			InstanceId:   aws.String(params.InstanceIds[0]),
			InstanceType: types.InstanceType(m.instanceType),
			State:        &types.InstanceState{Name: m.state},
		}}}},
	}, nil
}

func (m *mockEC2Client) DescribeInstanceTypes(ctx context.Context, params *ec2.DescribeInstanceTypesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceTypesOutput, error) {
	m.operations = append(m.operations, opDescribeInstanceTypes)
	if m.unknownTypes {
		return nil, errors.New("InvalidInstanceType")
	}
	return &ec2.DescribeInstanceTypesOutput{
		InstanceTypes: []types.InstanceTypeInfo{{InstanceType: params.InstanceTypes[0]}},
	}, nil
}

func (m *mockEC2Client) transition(n int, via, to types.InstanceStateName) {
	m.pending = nil
	for range n {
		m.pending = append(m.pending, via)
	}
	m.pending = append(m.pending, to)
}

func (m *mockEC2Client) StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error) {
	m.operations = append(m.operations, opStopInstances)
	if m.stopErr != nil {
		return nil, m.stopErr
	}
	m.transition(m.stopTransitions, types.InstanceStateNameStopping, types.InstanceStateNameStopped)
	return &ec2.StopInstancesOutput{}, nil
}

func (m *mockEC2Client) ModifyInstanceAttribute(ctx context.Context, params *ec2.ModifyInstanceAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifyInstanceAttributeOutput, error) {
	m.operations = append(m.operations, opModifyInstanceAttribute)
	m.modified = params
	if m.modifyErr != nil {
		return nil, m.modifyErr
	}
	if m.state != types.InstanceStateNameStopped {
		return nil, errors.New("IncorrectInstanceState")
	}
	m.instanceType = aws.ToString(params.InstanceType.Value)
	return &ec2.ModifyInstanceAttributeOutput{}, nil
}

func (m *mockEC2Client) StartInstances(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error) {
	m.operations = append(m.operations, opStartInstances)
	if m.startErr != nil {
		return nil, m.startErr
	}
	m.transition(m.startTransitions, types.InstanceStateNamePending, types.InstanceStateNameRunning)
	return &ec2.StartInstancesOutput{}, nil
}

func newResizer(t *testing.T, m *mockEC2Client, timeout time.Duration) *Resizer {
	t.Helper()
	r, err := NewResizer(m, Config{
		InstanceID:   "i-0abc",
		InstanceType: "m5.xlarge",
		PollInterval: time.Millisecond,
		PollTimeout:  timeout,
	})
	require.NoError(t, err)
	return r
}

func TestResizerRun(t *testing.T) {
	t.Run("full sequence", func(t *testing.T) {
		m := &mockEC2Client{state: types.InstanceStateNameRunning, instanceType: "t3.large", stopTransitions: 2, startTransitions: 2}
		require.NoError(t, newResizer(t, m, 0).Run(t.Context()))

		want := []string{
			opDescribeInstanceTypes,
			opStopInstances,
			"DescribeInstances:stopping",
			"DescribeInstances:stopping",
			"DescribeInstances:stopped",
			opModifyInstanceAttribute,
			opStartInstances,
			"DescribeInstances:pending",
			"DescribeInstances:pending",
			"DescribeInstances:running",
		}
		if diff := cmp.Diff(want, m.operations); diff != "" {
			t.Errorf("operations mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, "m5.xlarge", m.instanceType)
		assert.Equal(t, "i-0abc", aws.ToString(m.modified.InstanceId))
	})

	t.Run("unknown type leaves instance alone", func(t *testing.T) {
		m := &mockEC2Client{state: types.InstanceStateNameRunning, unknownTypes: true}
		require.ErrorIs(t, newResizer(t, m, 0).Run(t.Context()), ErrInstanceType)
		assert.Equal(t, []string{opDescribeInstanceTypes}, m.operations)
	})

	t.Run("stop failure halts", func(t *testing.T) {
		m := &mockEC2Client{state: types.InstanceStateNameRunning, stopErr: errors.New("UnsupportedOperation")}
		require.ErrorIs(t, newResizer(t, m, 0).Run(t.Context()), ErrStop)
		assert.Equal(t, []string{opDescribeInstanceTypes, opStopInstances}, m.operations)
	})

	t.Run("never starts before stopped", func(t *testing.T) {
		// The instance never finishes stopping.
		m := &mockEC2Client{state: types.InstanceStateNameRunning, stopTransitions: 1000}
		err := newResizer(t, m, 20*time.Millisecond).Run(t.Context())
		require.ErrorIs(t, err, poll.ErrTimeout)
		assert.NotContains(t, m.operations, opModifyInstanceAttribute)
		assert.NotContains(t, m.operations, opStartInstances)
	})

	t.Run("modify failure does not start", func(t *testing.T) {
		m := &mockEC2Client{state: types.InstanceStateNameRunning, modifyErr: errors.New("InvalidParameterCombination")}
		require.ErrorIs(t, newResizer(t, m, 0).Run(t.Context()), ErrModify)
		assert.NotContains(t, m.operations, opStartInstances)
		assert.Equal(t, types.InstanceStateNameStopped, m.state)
	})

	t.Run("start failure", func(t *testing.T) {
		m := &mockEC2Client{state: types.InstanceStateNameRunning, startErr: errors.New("InsufficientInstanceCapacity")}
		require.ErrorIs(t, newResizer(t, m, 0).Run(t.Context()), ErrStart)
	})

	t.Run("not done before running", func(t *testing.T) {
		// The instance never leaves pending after the start.
		m := &mockEC2Client{state: types.InstanceStateNameRunning, startTransitions: 1000}
		err := newResizer(t, m, 20*time.Millisecond).Run(t.Context())
		require.ErrorIs(t, err, poll.ErrTimeout)
		assert.Contains(t, m.operations, opStartInstances)
		assert.NotContains(t, m.operations, "DescribeInstances:running")
	})
}

func TestConfig(t *testing.T) {
	_, err := NewResizer(&mockEC2Client{}, Config{InstanceType: "m5.large"})
	require.ErrorIs(t, err, ErrConfig)
	_, err = NewResizer(&mockEC2Client{}, Config{InstanceID: "i-0abc"})
	require.ErrorIs(t, err, ErrConfig)
}

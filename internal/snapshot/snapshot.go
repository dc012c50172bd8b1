// snapshot creates tagged EBS snapshots of every volume attached to an
// instance and waits for them to complete.
package snapshot

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/chainguard-dev/clog"

	"github.com/chainguard-dev/ec2ops/internal/instance"
)

// EC2API is the subset of '*ec2.Client' used by this package.
type EC2API interface {
	DescribeInstanceAttribute(ctx context.Context, params *ec2.DescribeInstanceAttributeInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceAttributeOutput, error)
	DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
	CreateSnapshot(ctx context.Context, params *ec2.CreateSnapshotInput, optFns ...func(*ec2.Options)) (*ec2.CreateSnapshotOutput, error)
	DescribeSnapshots(ctx context.Context, params *ec2.DescribeSnapshotsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error)
}

// Tag keys carried from a volume to its snapshot.
const (
	tagKeyMountPoint         = "MountPoint"
	tagKeyName               = "Name"
	tagKeyOwner              = "Owner"
	tagKeyDataClassification = "data_classification"
	tagKeyLifecycle          = "Lifecycle"
)

// progressComplete is the 'Progress' a finished snapshot reports.
const progressComplete = "100%"

// Volume is an attached EBS volume and the metadata copied to its snapshot.
// Tags absent from the volume are empty strings.
type Volume struct {
	DeviceName         string
	VolumeID           string
	ServerName         string
	Owner              string
	DataClassification string
	Lifecycle          string
}

func (v Volume) tags() []types.Tag {
	return []types.Tag{
		{Key: aws.String(tagKeyMountPoint), Value: aws.String(v.DeviceName)},
		{Key: aws.String(tagKeyName), Value: aws.String(v.ServerName)},
		{Key: aws.String(tagKeyOwner), Value: aws.String(v.Owner)},
		{Key: aws.String(tagKeyDataClassification), Value: aws.String(v.DataClassification)},
		{Key: aws.String(tagKeyLifecycle), Value: aws.String(v.Lifecycle)},
	}
}

var (
	ErrBlockDevices = fmt.Errorf("failed to list instance block devices")
	ErrVolumeTags   = fmt.Errorf("failed to describe volume")
	ErrCreate       = fmt.Errorf("failed to create snapshot")
	ErrProgress     = fmt.Errorf("failed to fetch snapshot progress")
)

// Volumes lists the EBS volumes attached to 'instanceID', in block device
// mapping order, with their tags resolved.
func Volumes(ctx context.Context, client EC2API, instanceID string) ([]Volume, error) {
	attr, err := client.DescribeInstanceAttribute(ctx, &ec2.DescribeInstanceAttributeInput{
		InstanceId: aws.String(instanceID),
		Attribute:  types.InstanceAttributeNameBlockDeviceMapping,
	})
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrBlockDevices, instanceID, err)
	}
	log := clog.FromContext(ctx).With("instance_id", instanceID)
	var volumes []Volume
	for _, mapping := range attr.BlockDeviceMappings {
		if mapping.Ebs == nil || mapping.Ebs.VolumeId == nil {
			log.Debug("skipping block device without an EBS volume", "device", aws.ToString(mapping.DeviceName))
			continue
		}
		v := Volume{
			DeviceName: aws.ToString(mapping.DeviceName),
			VolumeID:   aws.ToString(mapping.Ebs.VolumeId),
		}
		if err := v.resolveTags(ctx, client); err != nil {
			return nil, err
		}
		volumes = append(volumes, v)
	}
	return volumes, nil
}

func (v *Volume) resolveTags(ctx context.Context, client EC2API) error {
	out, err := client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{
		VolumeIds: []string{v.VolumeID},
	})
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrVolumeTags, v.VolumeID, err)
	}
	for _, vol := range out.Volumes {
		v.ServerName, _ = instance.Tag(vol.Tags, tagKeyName)
		v.Owner, _ = instance.Tag(vol.Tags, tagKeyOwner)
		v.DataClassification, _ = instance.Tag(vol.Tags, tagKeyDataClassification)
		v.Lifecycle, _ = instance.Tag(vol.Tags, tagKeyLifecycle)
	}
	return nil
}

// Create starts a snapshot of 'v', tagged with the volume's metadata.
func Create(ctx context.Context, client EC2API, v Volume, description string) (string, error) {
	out, err := client.CreateSnapshot(ctx, &ec2.CreateSnapshotInput{
		VolumeId:    aws.String(v.VolumeID),
		Description: aws.String(description),
		TagSpecifications: []types.TagSpecification{{
			ResourceType: types.ResourceTypeSnapshot,
			Tags:         v.tags(),
		}},
	})
	if err != nil {
		return "", fmt.Errorf("%w of %s: %w", ErrCreate, v.VolumeID, err)
	}
	clog.FromContext(ctx).Info("snapshot started",
		"volume_id", v.VolumeID,
		"snapshot_id", aws.ToString(out.SnapshotId),
		"mount_point", v.DeviceName,
	)
	return aws.ToString(out.SnapshotId), nil
}

// Progress returns the progress of the last listed snapshot of 'v' with
// 'description', or "" if none has reported progress yet.
func Progress(ctx context.Context, client EC2API, v Volume, description string) (string, error) {
	out, err := client.DescribeSnapshots(ctx, &ec2.DescribeSnapshotsInput{
		OwnerIds: []string{"self"},
		Filters: []types.Filter{
			{Name: aws.String("tag:" + tagKeyMountPoint), Values: []string{v.DeviceName}},
			{Name: aws.String("tag:" + tagKeyName), Values: []string{v.ServerName}},
			{Name: aws.String("description"), Values: []string{description}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w for %s: %w", ErrProgress, v.VolumeID, err)
	}
	progress := ""
	for _, snap := range out.Snapshots {
		if snap.Progress != nil {
			progress = *snap.Progress
		}
	}
	return progress, nil
}

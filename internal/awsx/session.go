// awsx builds the explicit, per-run AWS session shared by a command's
// operations: one 'aws.Config' and the service clients derived from it.
package awsx

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	elb "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
)

const DefaultRegion = "us-east-1"

var (
	ErrPartialCredentials = errors.New("both an access key ID and a secret access key are required")
	ErrConfigLoad         = errors.New("failed to load AWS configuration")
)

// Credentials are static AWS keys. The zero value selects the default
// credential chain (environment, shared config, instance role...).
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
}

func (c Credentials) static() bool {
	return c.AccessKeyID != "" || c.SecretAccessKey != ""
}

func (c Credentials) Validate() error {
	if c.static() && (c.AccessKeyID == "" || c.SecretAccessKey == "") {
		return ErrPartialCredentials
	}
	return nil
}

// Session holds everything a command needs to talk to AWS.
type Session struct {
	Config      aws.Config
	EC2         *ec2.Client
	AutoScaling *autoscaling.Client
	ELB         *elb.Client
}

func NewSession(ctx context.Context, region string, creds Credentials) (*Session, error) {
	cfg, err := LoadConfig(ctx, region, creds)
	if err != nil {
		return nil, err
	}
	return &Session{
		Config:      cfg,
		EC2:         ec2.NewFromConfig(cfg),
		AutoScaling: autoscaling.NewFromConfig(cfg),
		ELB:         elb.NewFromConfig(cfg),
	}, nil
}

// LoadConfig resolves an 'aws.Config' for 'region', pinning static
// credentials when 'creds' carries them.
func LoadConfig(ctx context.Context, region string, creds Credentials) (aws.Config, error) {
	if err := creds.Validate(); err != nil {
		return aws.Config{}, err
	}
	if region == "" {
		region = DefaultRegion
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if creds.static() {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("%w: %w", ErrConfigLoad, err)
	}
	return cfg, nil
}

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chainguard-dev/ec2ops/internal/awsx"
	"github.com/chainguard-dev/ec2ops/internal/log"
)

// Globals holds the flags every command shares.
type Globals struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	PollInterval    time.Duration
	PollTimeout     time.Duration
	LogLevel        string
	LogDir          string
}

// AddGlobalFlags registers the shared flags on 'cmd', binding them to 'g'.
// 'pollInterval' is the command's default time between status checks.
func AddGlobalFlags(cmd *cobra.Command, g *Globals, pollInterval time.Duration) {
	f := cmd.Flags()
	f.StringVar(&g.AccessKeyID, "awskey", "", "AWS access key ID (requires --awssecret; omit both to use the default credential chain)")
	f.StringVar(&g.SecretAccessKey, "awssecret", "", "AWS secret access key (requires --awskey)")
	f.StringVar(&g.Region, "region", awsx.DefaultRegion, "AWS region")
	f.DurationVar(&g.PollInterval, "poll-interval", pollInterval, "time between status checks")
	f.DurationVar(&g.PollTimeout, "poll-timeout", 0, "give up waiting after this long (0 waits indefinitely)")
	f.StringVar(&g.LogLevel, "log-level", "info", "console log level (debug, info, warn, error)")
	f.StringVar(&g.LogDir, "log-dir", "", "directory to write a JSON run log to")

	cmd.PreRunE = func(*cobra.Command, []string) error {
		return g.validate()
	}
}

func (g Globals) Credentials() awsx.Credentials {
	return awsx.Credentials{
		AccessKeyID:     g.AccessKeyID,
		SecretAccessKey: g.SecretAccessKey,
	}
}

func (g Globals) validate() error {
	if err := g.Credentials().Validate(); err != nil {
		return fmt.Errorf("--awskey and --awssecret: %w", err)
	}
	if _, err := log.ParseLevel(g.LogLevel); err != nil {
		return err
	}
	if g.PollInterval <= 0 {
		return fmt.Errorf("--poll-interval must be positive, got %s", g.PollInterval)
	}
	if g.PollTimeout < 0 {
		return fmt.Errorf("--poll-timeout must not be negative, got %s", g.PollTimeout)
	}
	return nil
}

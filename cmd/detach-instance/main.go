package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/chainguard-dev/ec2ops/internal/asg"
	"github.com/chainguard-dev/ec2ops/internal/awsx"
	"github.com/chainguard-dev/ec2ops/internal/cli"
	"github.com/chainguard-dev/ec2ops/internal/diagnostics"
)

// these will be set by the goreleaser configuration
// to appropriate values for the compiled binary.
var version string = "dev"

func main() {
	os.Exit(cli.Execute(newCommand(), os.Args[1:], os.Stdout, os.Stderr))
}

func newCommand() *cobra.Command {
	var (
		g         cli.Globals
		cfg       asg.Config
		collector diagnostics.SSHCollector
	)
	cmd := &cobra.Command{
		Use:   "detach-instance -i INSTANCE_ID",
		Short: "Collect diagnostics from an Auto Scaling group instance, detach it and terminate it",
		Long: `Collect diagnostics from an Auto Scaling group instance, detach it and terminate it.

Thread dumps and application logs are downloaded over SSH first. The instance
is then detached without lowering the group's desired capacity, so the group
launches a replacement. Once the instance has left its target group it is
terminated.`,
		Version: version,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cli.Run(cmd, &g, []string{cfg.InstanceID}, func(ctx context.Context, sess *awsx.Session) error {
				cfg.PollInterval = g.PollInterval
				cfg.PollTimeout = g.PollTimeout
				detacher, err := asg.NewDetacher(sess.EC2, sess.AutoScaling, sess.ELB, collector, cfg)
				if err != nil {
					return err
				}
				return detacher.Run(ctx)
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&cfg.InstanceID, "instance", "i", "", "instance ID to detach and terminate")
	f.BoolVar(&cfg.SkipLogs, "skip-logs", false, "skip thread dumps and log collection")
	f.StringVar(&collector.User, "ssh-user", "centos", "SSH login name")
	f.StringVar(&collector.KeyPath, "ssh-key", "./pemkey.pem", "SSH private key file")
	f.StringVar(&collector.KnownHosts, "known-hosts", "", "known_hosts file to verify the host key against (default: accept any host key)")
	f.DurationVar(&collector.ReachTimeout, "ssh-timeout", 5*time.Minute, "how long to wait for the SSH port to open (0 waits indefinitely)")
	f.StringVar(&collector.Config.OutputDir, "output-dir", ".", "directory to save downloaded files to")
	f.DurationVar(&collector.Config.DumpInterval, "dump-interval", 10*time.Second, "pause after each thread dump")
	_ = cmd.MarkFlagRequired("instance")
	cli.AddGlobalFlags(cmd, &g, 30*time.Second)
	return cmd
}

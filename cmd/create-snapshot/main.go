package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/chainguard-dev/ec2ops/internal/awsx"
	"github.com/chainguard-dev/ec2ops/internal/cli"
	"github.com/chainguard-dev/ec2ops/internal/snapshot"
)

// these will be set by the goreleaser configuration
// to appropriate values for the compiled binary.
var version string = "dev"

func main() {
	os.Exit(cli.Execute(newCommand(), os.Args[1:], os.Stdout, os.Stderr))
}

func newCommand() *cobra.Command {
	var (
		g   cli.Globals
		cfg snapshot.Config
	)
	cmd := &cobra.Command{
		Use:   "create-snapshot -i INSTANCE_ID[,INSTANCE_ID...] -d DESCRIPTION",
		Short: "Snapshot every EBS volume attached to the given instances",
		Long: `Snapshot every EBS volume attached to the given instances.

Each snapshot is tagged with the volume's mount point and its Name, Owner,
data_classification and Lifecycle tags. Instances are processed in order and
each instance's snapshots are awaited before moving on to the next.`,
		Version: version,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cli.Run(cmd, &g, cfg.Instances, func(ctx context.Context, sess *awsx.Session) error {
				cfg.PollInterval = g.PollInterval
				cfg.PollTimeout = g.PollTimeout
				creator, err := snapshot.NewCreator(sess.EC2, cfg)
				if err != nil {
					return err
				}
				return creator.Run(ctx)
			})
		},
	}
	cmd.Flags().StringSliceVarP(&cfg.Instances, "instances", "i", nil, "instance IDs to snapshot (repeatable or comma-separated)")
	cmd.Flags().StringVarP(&cfg.Description, "description", "d", "", "description applied to every snapshot")
	_ = cmd.MarkFlagRequired("instances")
	_ = cmd.MarkFlagRequired("description")
	cli.AddGlobalFlags(cmd, &g, 10*time.Second)
	return cmd
}

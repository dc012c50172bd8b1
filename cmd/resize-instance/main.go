package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/chainguard-dev/ec2ops/internal/awsx"
	"github.com/chainguard-dev/ec2ops/internal/cli"
	"github.com/chainguard-dev/ec2ops/internal/resize"
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
		cfg resize.Config
	)
	cmd := &cobra.Command{
		Use:   "resize-instance -i INSTANCE_ID -s INSTANCE_TYPE",
		Short: "Change an instance's type by stopping, modifying and restarting it",
		Long: `Change an instance's type by stopping, modifying and restarting it.

The target type is checked before the instance is stopped. A failure at any
step leaves the instance where it is; nothing is rolled back.`,
		Version: version,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cli.Run(cmd, &g, []string{cfg.InstanceID, cfg.InstanceType}, func(ctx context.Context, sess *awsx.Session) error {
				cfg.PollInterval = g.PollInterval
				cfg.PollTimeout = g.PollTimeout
				resizer, err := resize.NewResizer(sess.EC2, cfg)
				if err != nil {
					return err
				}
				return resizer.Run(ctx)
			})
		},
	}
	cmd.Flags().StringVarP(&cfg.InstanceID, "instance", "i", "", "instance ID to resize")
	cmd.Flags().StringVarP(&cfg.InstanceType, "size", "s", "", "target instance type, e.g. m5.xlarge")
	_ = cmd.MarkFlagRequired("instance")
	_ = cmd.MarkFlagRequired("size")
	cli.AddGlobalFlags(cmd, &g, 10*time.Second)
	return cmd
}

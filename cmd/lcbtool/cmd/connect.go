package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/couchbase/lcbgo/internal/instance"
)

var connectBucket string

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Bootstrap against the cluster and report the resulting state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withInstance(func(ctx context.Context, inst *instance.Instance) error {
			if connectBucket != "" {
				if err := inst.Open(ctx, connectBucket); err != nil {
					return err
				}
			}
			fmt.Println("state:", inst.State())
			return nil
		})
	},
}

func init() {
	connectCmd.Flags().StringVar(&connectBucket, "bucket", "", "bucket to open after connecting")
}

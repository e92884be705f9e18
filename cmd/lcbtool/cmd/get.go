package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/couchbase/lcbgo/internal/instance"
)

var getBucket string

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Fetch a document by key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		return withInstance(func(ctx context.Context, inst *instance.Instance) error {
			if getBucket != "" {
				if err := inst.Open(ctx, getBucket); err != nil {
					return err
				}
			}
			value, flags, cas, err := inst.Get(ctx, []byte(key))
			if err != nil {
				return err
			}
			fmt.Printf("cas=%#x flags=%#x\n%s\n", cas, flags, value)
			return nil
		})
	},
}

func init() {
	getCmd.Flags().StringVar(&getBucket, "bucket", "", "bucket to open before fetching")
}

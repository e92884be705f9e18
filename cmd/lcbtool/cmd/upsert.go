package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/couchbase/lcbgo/internal/instance"
)

var (
	upsertBucket string
	upsertExpiry uint32
)

var upsertCmd = &cobra.Command{
	Use:   "upsert <key> <value>",
	Short: "Store a document unconditionally",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		return withInstance(func(ctx context.Context, inst *instance.Instance) error {
			if upsertBucket != "" {
				if err := inst.Open(ctx, upsertBucket); err != nil {
					return err
				}
			}
			cas, err := inst.Upsert(ctx, []byte(key), []byte(value), 0, upsertExpiry)
			if err != nil {
				return err
			}
			fmt.Printf("cas=%#x\n", cas)
			return nil
		})
	},
}

func init() {
	upsertCmd.Flags().StringVar(&upsertBucket, "bucket", "", "bucket to open before storing")
	upsertCmd.Flags().Uint32Var(&upsertExpiry, "expiry", 0, "expiry in seconds (0 = never)")
}

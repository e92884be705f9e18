package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/couchbase/lcbgo/internal/instance"
)

var (
	queryBucket  string
	queryPrepare bool
)

var queryCmd = &cobra.Command{
	Use:   "query <statement>",
	Short: "Run a N1QL statement against the query service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		statement := args[0]
		return withInstance(func(ctx context.Context, inst *instance.Instance) error {
			if queryBucket != "" {
				if err := inst.Open(ctx, queryBucket); err != nil {
					return err
				}
			}
			if queryPrepare {
				name, err := inst.Prepare(ctx, statement)
				if err != nil {
					return err
				}
				fmt.Println("prepared:", name)
			}
			res, err := inst.Query(ctx, statement, nil)
			if err != nil {
				return err
			}
			fmt.Printf("status=%d\n%s\n", res.StatusCode, res.Body)
			return nil
		})
	},
}

func init() {
	queryCmd.Flags().StringVar(&queryBucket, "bucket", "", "bucket to open before querying")
	queryCmd.Flags().BoolVar(&queryPrepare, "prepare", false, "PREPARE the statement and cache its plan before running it")
}

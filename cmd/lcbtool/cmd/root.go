package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchbase/lcbgo/internal/instance"
)

var (
	connStr string
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "lcbtool",
	Short: "Inspect and exercise a Couchbase cluster via lcbgo",
	Long: `lcbtool drives internal/instance directly: it connects using the same
connection-string grammar as any lcbgo caller, then runs one operation and
exits. Useful for poking at a cluster's config, reading/writing a document,
or running a N1QL query without writing a Go program.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&connStr, "connstr", "couchbase://localhost", "connection string (spec.md §6 grammar)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "overall command timeout")

	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(upsertCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(dumpConfigCmd)
}

// Execute runs the CLI's root command.
func Execute() error {
	return rootCmd.Execute()
}

// withInstance connects an Instance built from the global --connstr/--timeout
// flags, runs fn, and always tears it down before returning.
func withInstance(fn func(ctx context.Context, inst *instance.Instance) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	inst, err := instance.Create(connStr)
	if err != nil {
		return err
	}
	defer inst.Destroy(context.Background())

	if err := inst.Connect(ctx); err != nil {
		return err
	}
	return fn(ctx, inst)
}

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/couchbase/lcbgo/internal/instance"
)

var dumpConfigCmd = &cobra.Command{
	Use:   "dump-config",
	Short: "Print the cluster map currently in effect",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withInstance(func(ctx context.Context, inst *instance.Instance) error {
			cfg := inst.CurrentConfig()
			if cfg == nil {
				fmt.Println("no config yet")
				return nil
			}
			fmt.Printf("origin=%s rev=%d rev_epoch=%d replicas=%d\n", cfg.Origin, cfg.Rev, cfg.RevEpoch, cfg.NumReplicas)
			for i, n := range cfg.Nodes {
				fmt.Printf("  [%d] %s kv=%d mgmt=%d views=%d n1ql=%d search=%d\n",
					i, n.Hostname, n.KVPort, n.MgmtPort, n.ViewsPort, n.N1QLPort, n.SearchPort)
			}
			return nil
		})
	},
}

// Command lcbtool is a small CLI over internal/instance, for poking at a
// cluster the way cbc(1) does: connect, fetch/store a document, dump the
// resolved cluster map, or run a N1QL query.
package main

import (
	"fmt"
	"os"

	"github.com/couchbase/lcbgo/cmd/lcbtool/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

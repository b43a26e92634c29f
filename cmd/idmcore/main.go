// Command idmcore administers an identity store: it bootstraps builtin
// entries, searches, imports entries and takes or restores backups.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

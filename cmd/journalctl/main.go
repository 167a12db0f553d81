package main

import (
    "log"

    "github.com/spf13/cobra"

    journalcli "github.com/amirimatin/go-raft-journal/pkg/cli"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        log.Fatal(err)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "journalctl",
        Short:         "go-raft-journal management CLI",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    // Attach all journal commands from pkg/cli for reuse in services
    journalcli.AddAll(root)
    return root
}

// lnsyncd follows the chain for a set of transactions and keeps the LSP
// connection and maintenance tasks running, logging what a Lightning
// engine would be told.
//
// Usage:
//
//	lnsyncd [--network=...] [--watch-tx=<txid>,...]   Run the daemon
//	lnsyncd --help                                   Show help
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Klingon-tech/lnsync/config"
	"github.com/Klingon-tech/lnsync/internal/node"
)

func main() {
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	n, err := node.New(cfg, newObserver())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := n.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		n.Stop()
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	if err := n.Stop(); err != nil {
		os.Exit(1)
	}
}

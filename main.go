package main

import (
	"fmt"
	"os"

	"github.com/go-gnutella/go-gnutella/lib/cli"
	"github.com/go-gnutella/go-gnutella/lib/util/logger"
)

var log = logger.GetLogger()

func main() {
	if err := cli.Execute(); err != nil {
		log.WithError(err).Debug("command_failed")
		fmt.Fprintln(os.Stderr, "go-gnutella:", err)
		os.Exit(1)
	}
}

//go:build !windows

package signals

import (
	"os"
	"syscall"
)

var captured = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}

func dispatch(sig os.Signal) {
	switch sig {
	case syscall.SIGHUP:
		handleReload()
	case syscall.SIGINT, syscall.SIGTERM:
		handleInterrupted()
	}
}

//go:build windows

package signals

import "os"

// Windows has no reload signal.
var captured = []os.Signal{os.Interrupt}

func dispatch(sig os.Signal) {
	if sig == os.Interrupt {
		handleInterrupted()
	}
}

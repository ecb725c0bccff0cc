package util

import (
	"io"
	"sync"

	"github.com/go-gnutella/go-gnutella/lib/util/logger"
)

var (
	log = logger.GetLogger()

	closeOnExit []io.Closer
	closeMutex  sync.Mutex
)

// RegisterCloser registers listeners and connections to be closed on shutdown.
func RegisterCloser(c io.Closer) {
	closeMutex.Lock()
	defer closeMutex.Unlock()
	closeOnExit = append(closeOnExit, c)
	log.WithField("count", len(closeOnExit)).Debug("registered_closer")
}

// CloseAll closes every registered closer in reverse registration order and
// clears the list. Errors are logged, not returned.
func CloseAll() {
	closeMutex.Lock()
	defer closeMutex.Unlock()

	log.WithField("count", len(closeOnExit)).Debug("closing_all")
	for i := len(closeOnExit) - 1; i >= 0; i-- {
		if err := closeOnExit[i].Close(); err != nil {
			log.WithError(err).Warn("close_failed")
		}
	}
	closeOnExit = nil
}

// Package signals runs registered callbacks when the process is asked to
// reload its configuration or to stop.
package signals

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"

	"github.com/go-gnutella/go-gnutella/lib/util/logger"
)

var log = logger.GetLogger()

// Handler is a function called when a signal is received.
type Handler func()

// HandlerID identifies a registered handler.
type HandlerID int

type registeredHandler struct {
	id HandlerID
	fn Handler
}

var (
	mu           sync.RWMutex
	reloaders    []registeredHandler
	interrupters []registeredHandler
	nextID       HandlerID
	capturing    atomic.Int32
)

func register(list *[]registeredHandler, f Handler) HandlerID {
	if f == nil {
		return -1
	}
	mu.Lock()
	defer mu.Unlock()
	id := nextID
	nextID++
	*list = append(*list, registeredHandler{id: id, fn: f})
	return id
}

func deregister(list *[]registeredHandler, id HandlerID) {
	mu.Lock()
	defer mu.Unlock()
	for i, h := range *list {
		if h.id == id {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return
		}
	}
}

// RegisterReloadHandler registers f to run on SIGHUP. Nil handlers are
// ignored and return -1.
func RegisterReloadHandler(f Handler) HandlerID {
	return register(&reloaders, f)
}

func DeregisterReloadHandler(id HandlerID) {
	deregister(&reloaders, id)
}

// RegisterInterruptHandler registers f to run on SIGINT or SIGTERM. Nil
// handlers are ignored and return -1.
func RegisterInterruptHandler(f Handler) HandlerID {
	return register(&interrupters, f)
}

func DeregisterInterruptHandler(id HandlerID) {
	deregister(&interrupters, id)
}

// run calls every handler in list in registration order. A panicking handler
// does not stop the others.
func run(kind string, list *[]registeredHandler) {
	mu.RLock()
	snapshot := make([]registeredHandler, len(*list))
	copy(snapshot, *list)
	mu.RUnlock()
	for _, h := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(logger.Fields{
						"at":      "signals.run",
						"kind":    kind,
						"handler": h.id,
						"panic":   r,
					}).Error("handler_panicked")
				}
			}()
			h.fn()
		}()
	}
}

func handleReload() {
	run("reload", &reloaders)
}

func handleInterrupted() {
	run("interrupt", &interrupters)
}

// Handle captures the process signals and dispatches them to the registered
// handlers until ctx is done. Signals are only captured while Handle runs;
// outside of it the runtime's default behaviour applies.
func Handle(ctx context.Context) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, captured...)
	capturing.Add(1)
	defer func() {
		signal.Stop(ch)
		capturing.Add(-1)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			dispatch(sig)
		}
	}
}

// Capturing reports whether a Handle loop currently owns the process signals.
func Capturing() bool {
	return capturing.Load() > 0
}

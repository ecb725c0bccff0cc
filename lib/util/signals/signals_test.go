package signals

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reset() {
	mu.Lock()
	defer mu.Unlock()
	reloaders = nil
	interrupters = nil
}

func TestInterruptHandlersRunInOrder(t *testing.T) {
	reset()
	defer reset()

	var order []int
	RegisterInterruptHandler(func() { order = append(order, 1) })
	RegisterInterruptHandler(func() { order = append(order, 2) })
	handleInterrupted()

	assert.Equal(t, []int{1, 2}, order)
}

func TestNilHandlerIgnored(t *testing.T) {
	reset()
	defer reset()

	assert.Equal(t, HandlerID(-1), RegisterReloadHandler(nil))
	assert.Equal(t, HandlerID(-1), RegisterInterruptHandler(nil))
	assert.Empty(t, reloaders)
	assert.Empty(t, interrupters)
}

func TestDeregister(t *testing.T) {
	reset()
	defer reset()

	calls := 0
	id := RegisterReloadHandler(func() { calls++ })
	RegisterReloadHandler(func() { calls += 10 })
	DeregisterReloadHandler(id)
	handleReload()

	assert.Equal(t, 10, calls)

	id = RegisterInterruptHandler(func() { calls++ })
	DeregisterInterruptHandler(id)
	handleInterrupted()
	assert.Equal(t, 10, calls)
}

func TestPanickingHandlerDoesNotStopOthers(t *testing.T) {
	reset()
	defer reset()

	ran := false
	RegisterReloadHandler(func() { panic("boom") })
	RegisterReloadHandler(func() { ran = true })

	assert.NotPanics(t, handleReload)
	assert.True(t, ran)
}

func TestHandleReleasesSignalsOnCancel(t *testing.T) {
	assert.False(t, Capturing())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Handle(ctx)
		close(done)
	}()
	require.Eventually(t, Capturing, time.Second, time.Millisecond)

	cancel()
	<-done
	assert.False(t, Capturing())
}

// Package monotonic provides the creation clock used to stamp messages.
//
// Go's time.Now() carries a monotonic reading, but two calls can still return
// equal values on coarse clocks, and a wall clock step backwards can reorder
// stamps taken from the wall reading alone. Clock.Now never returns a value
// earlier than the previous one it returned, so creation times taken from a
// single Clock are totally ordered.
//
//	clock := monotonic.NewClock()
//	created := clock.Now()
//	age := clock.Since(created)
package monotonic

// Package shutdown ties process termination signals to a context.
package shutdown

import (
	"context"
	"os/signal"
)

// Context is cancelled on the first interrupt or terminate signal. Call stop
// to restore default signal handling, after which a second signal kills the
// process.
func Context(parent context.Context) (ctx context.Context, stop context.CancelFunc) {
	return signal.NotifyContext(parent, signals...)
}

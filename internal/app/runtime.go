package app

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
)

const testModeEnv = "UNITSTOCK_TEST_MODE"

// InTestMode reports whether binaries should skip runtime side effects. It
// reads UNITSTOCK_TEST_MODE on every call; unparsable values count as false.
func InTestMode() bool {
	enabled, err := strconv.ParseBool(os.Getenv(testModeEnv))
	return err == nil && enabled
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

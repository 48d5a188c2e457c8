// Package goroutine contains helpers for long-lived background goroutines.
package goroutine

import (
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"
)

// Recover is meant to be deferred at the top of a background goroutine. A
// panic is logged with its stack instead of crashing the process; when no
// logger is available the report goes to stderr.
func Recover(name string, logger *zap.SugaredLogger) {
	r := recover()
	if r == nil {
		return
	}

	stack := make([]byte, 4096)
	stack = stack[:runtime.Stack(stack, false)]

	if logger == nil {
		fmt.Fprintf(os.Stderr, "panic in %s goroutine: %v\n%s\n", name, r, stack)
		return
	}
	logger.Errorw("Background goroutine panicked",
		"goroutine", name,
		"panic", r,
		"stack", string(stack))
}

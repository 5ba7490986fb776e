package utils

import (
	"log"
	"runtime/debug"
)

// GoSafe runs fn in its own goroutine and recovers any panic instead of
// crashing the process, logging the stack trace. Every long-lived
// background loop (scheduler ticks, stream consumers, router dispatch
// workers) is started through this so one bad job can't take the whole
// service down.
func GoSafe(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("panic recovered: %v\n%s", r, debug.Stack())
			}
		}()
		fn()
	}()
}

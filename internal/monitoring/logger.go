// Package monitoring holds the process-wide diagnostic logger.
package monitoring

import (
	"fmt"
	"log"
	"sync"
)

// LogFunc is the printf-style signature used for every log sink.
type LogFunc func(format string, v ...interface{})

var (
	mu      sync.RWMutex
	console LogFunc = log.Printf
	mirror  LogFunc
)

// Logf is the package-level diagnostic logger. It writes to the console logger
// (log.Printf unless replaced by SetLogger) and, when registered, to the mirror
// sink as well. Radar and channel diagnostics go through here so an operator
// attached to the command channel sees them live.
func Logf(format string, v ...interface{}) {
	mu.RLock()
	c, m := console, mirror
	mu.RUnlock()

	c(format, v...)
	if m != nil {
		m(format, v...)
	}
}

// SetLogger replaces the console logger. Passing nil will set a no-op logger.
func SetLogger(f LogFunc) {
	mu.Lock()
	defer mu.Unlock()
	if f == nil {
		console = func(string, ...interface{}) {}
		return
	}
	console = f
}

// SetMirror registers a secondary sink that receives every Logf line after the
// console. Passing nil removes it.
func SetMirror(f LogFunc) {
	mu.Lock()
	defer mu.Unlock()
	mirror = f
}

// Sprintf formats a log line the same way the sinks will, with a trailing
// newline guaranteed. Mirror sinks that write to a byte stream use it.
func Sprintf(format string, v ...interface{}) string {
	s := fmt.Sprintf(format, v...)
	if len(s) == 0 || s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

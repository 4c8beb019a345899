// Package logging hands out component loggers that share one level.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/labstack/gommon/log"
)

var (
	mu      sync.RWMutex
	level   = log.INFO
	output  io.Writer
	loggers []*log.Logger
)

// ParseLevel maps a config value to a gommon level.
func ParseLevel(s string) (log.Lvl, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DEBUG, nil
	case "", "info":
		return log.INFO, nil
	case "warn", "warning":
		return log.WARN, nil
	case "error":
		return log.ERROR, nil
	case "off":
		return log.OFF, nil
	}
	return log.INFO, fmt.Errorf("unknown log level %q", s)
}

// SetLevel changes the level of every logger, existing and future.
func SetLevel(lvl log.Lvl) {
	mu.Lock()
	defer mu.Unlock()
	level = lvl
	log.SetLevel(lvl)
	for _, l := range loggers {
		l.SetLevel(lvl)
	}
}

// SetOutput redirects every logger. A nil writer restores stdout.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	mu.Lock()
	defer mu.Unlock()
	output = w
	log.SetOutput(w)
	for _, l := range loggers {
		l.SetOutput(w)
	}
}

// Level returns the current level.
func Level() log.Lvl {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// New returns a logger whose messages carry a bracketed component tag,
// e.g. "[Session 1a2b3c4d]".
func New(component string, id ...string) *log.Logger {
	tag := component
	if len(id) > 0 && id[0] != "" {
		tag += " " + ShortID(id[0])
	}

	l := log.New(component)
	l.SetHeader("${time_rfc3339} ${level} ${prefix}")
	l.SetPrefix("[" + tag + "]")

	mu.Lock()
	defer mu.Unlock()
	l.SetLevel(level)
	if output != nil {
		l.SetOutput(output)
	}
	// Per-ID loggers are short lived and are not tracked.
	if len(id) == 0 {
		loggers = append(loggers, l)
	}
	return l
}

// ShortID truncates an ID for log lines.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

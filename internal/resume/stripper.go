package resume

import (
	"strings"

	"github.com/print-resume/backend/internal/gcode"
)

// StripState is the state of the start-section stripper.
type StripState int

const (
	// StateRemoving drops setup commands and plain comments.
	StateRemoving StripState = iota
	// StatePassThrough copies every remaining line unchanged. It is terminal.
	StatePassThrough
)

func (s StripState) String() string {
	if s == StatePassThrough {
		return "pass_through"
	}
	return "removing"
}

// DefaultKeepPrefixes are comment prefixes that end the start section.
var DefaultKeepPrefixes = []string{";TYPE"}

// setupCommands are dropped while removing. G92 is handled separately since
// only an extruder reset belongs to the start sequence.
var setupCommands = []string{"G28", "M107", "M82", "G90", "M140", "M190", "M104", "M109"}

// startMacros are start-of-print macro calls.
var startMacros = []string{"PRINT_START", "START_PRINT"}

// Stripper removes the leading run of setup lines from a truncated document.
type Stripper struct {
	keepPrefixes []string
	state        StripState
}

// NewStripper creates a stripper in StateRemoving. Comments starting with one
// of keepPrefixes (case-insensitive) are kept and end the start section.
func NewStripper(keepPrefixes []string) *Stripper {
	if keepPrefixes == nil {
		keepPrefixes = DefaultKeepPrefixes
	}
	upper := make([]string, len(keepPrefixes))
	for i, p := range keepPrefixes {
		upper[i] = strings.ToUpper(strings.TrimSpace(p))
	}
	return &Stripper{keepPrefixes: upper, state: StateRemoving}
}

// State returns the current state.
func (s *Stripper) State() StripState {
	return s.state
}

// Feed consumes one line and reports whether it is emitted.
func (s *Stripper) Feed(line string) bool {
	if s.state == StatePassThrough {
		return true
	}
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || s.removable(trimmed) {
		return false
	}
	s.state = StatePassThrough
	return true
}

// Strip runs lines through a fresh stripper and returns the emitted ones.
func Strip(lines []string, keepPrefixes []string) []string {
	s := NewStripper(keepPrefixes)
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if s.Feed(line) {
			out = append(out, line)
		}
	}
	return out
}

func (s *Stripper) removable(trimmed string) bool {
	if strings.HasPrefix(trimmed, ";") {
		upper := strings.ToUpper(trimmed)
		for _, p := range s.keepPrefixes {
			if p != "" && strings.HasPrefix(upper, p) {
				return false
			}
		}
		return true
	}

	cmd := gcode.ParseCommand(trimmed)
	if cmd == nil {
		return false
	}
	if cmd.Is(setupCommands...) {
		return true
	}
	for _, name := range startMacros {
		if cmd.Name == name {
			return true
		}
	}
	return isExtruderReset(cmd)
}

// isExtruderReset matches "G92 E0" with no other axis.
func isExtruderReset(cmd *gcode.Command) bool {
	if !cmd.Is("G92") || len(cmd.Args) != 1 {
		return false
	}
	e, ok := cmd.FloatArg("E")
	return ok && e == 0
}

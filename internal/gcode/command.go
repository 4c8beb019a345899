package gcode

import (
	"regexp"
	"strconv"
	"strings"
)

var reParenComment = regexp.MustCompile(`\([^)]*\)`)

// Command is a tokenized G-code line.
// Name is upper-cased ("G1", "M104", "PRINT_START"); Args maps upper-cased keys to raw values.
type Command struct {
	Name string
	Args map[string]string
	Raw  string
}

// ParseCommand tokenizes a line. It returns nil for blank and comment-only lines.
// Both "X1.5" and Klipper-style "KEY=VALUE" arguments are accepted.
func ParseCommand(line string) *Command {
	ln := StripComment(line)
	if ln == "" {
		return nil
	}
	ln = strings.TrimSpace(reParenComment.ReplaceAllString(ln, " "))
	if ln == "" {
		return nil
	}

	fields := strings.Fields(ln)
	name := strings.ToUpper(fields[0])
	args := make(map[string]string, len(fields)-1)
	for _, f := range fields[1:] {
		if k, v, ok := strings.Cut(f, "="); ok {
			k = strings.ToUpper(strings.TrimSpace(k))
			if k != "" {
				args[k] = strings.TrimSpace(v)
			}
			continue
		}
		if len(f) < 2 {
			// bare axis letter, e.g. "G28 X Y"
			args[strings.ToUpper(f)] = ""
			continue
		}
		args[strings.ToUpper(f[:1])] = f[1:]
	}
	return &Command{Name: name, Args: args, Raw: line}
}

// StripComment returns the part of a line before the first ';', trimmed.
func StripComment(line string) string {
	if idx := strings.IndexByte(line, ';'); idx >= 0 {
		line = line[:idx]
	}
	return strings.TrimSpace(line)
}

// Has reports whether the command carries the argument key.
func (c *Command) Has(key string) bool {
	_, ok := c.Args[strings.ToUpper(key)]
	return ok
}

// FloatArg returns the numeric value of an argument. ok is false when the
// argument is missing or not a number.
func (c *Command) FloatArg(key string) (float64, bool) {
	raw, ok := c.Args[strings.ToUpper(key)]
	if !ok || raw == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Is reports whether the command word equals one of names. Leading zeros in
// the number are ignored so "G01" matches "G1".
func (c *Command) Is(names ...string) bool {
	norm := normalizeWord(c.Name)
	for _, n := range names {
		if norm == normalizeWord(n) {
			return true
		}
	}
	return false
}

func normalizeWord(w string) string {
	if len(w) < 2 || (w[0] != 'G' && w[0] != 'M' && w[0] != 'T') {
		return w
	}
	digits := strings.TrimLeft(w[1:], "0")
	if digits == "" {
		digits = "0"
	}
	if _, err := strconv.Atoi(digits); err != nil {
		return w
	}
	return w[:1] + digits
}

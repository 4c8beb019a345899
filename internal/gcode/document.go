// Package gcode reads slicer output and extracts layer, motion and temperature data from it.
package gcode

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// maxLineLength bounds a single line; thumbnails embedded by some slicers are long.
const maxLineLength = 1024 * 1024 // 1MB

// Document is an immutable, indexable sequence of G-code lines.
type Document struct {
	lines []string
}

// NewDocument wraps lines without copying them. Callers must not modify the slice afterwards.
func NewDocument(lines []string) *Document {
	return &Document{lines: lines}
}

// ReadDocument reads every line of r into memory. Line terminators are dropped.
func ReadDocument(r io.Reader) (*Document, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)

	lines := make([]string, 0, 4096)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	return &Document{lines: lines}, nil
}

// LoadDocument reads a G-code file from disk.
func LoadDocument(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ReadDocument(f)
}

// Len returns the number of lines.
func (d *Document) Len() int {
	return len(d.lines)
}

// Line returns the line at index i, or "" when i is out of range.
func (d *Document) Line(i int) string {
	if i < 0 || i >= len(d.lines) {
		return ""
	}
	return d.lines[i]
}

// Tail returns a copy of the lines from index start onward.
func (d *Document) Tail(start int) []string {
	if start < 0 {
		start = 0
	}
	if start >= len(d.lines) {
		return []string{}
	}
	out := make([]string, len(d.lines)-start)
	copy(out, d.lines[start:])
	return out
}

// Head returns at most n leading lines, sharing the underlying storage.
func (d *Document) Head(n int) []string {
	if n > len(d.lines) {
		n = len(d.lines)
	}
	return d.lines[:n]
}

// IsCommentLine reports whether a line holds only a comment.
func IsCommentLine(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), ";")
}

package gcode

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MarkerKind tells whether a matched comment carries a height.
type MarkerKind int

const (
	// KindLayerChange is a layer boundary without a Z value.
	KindLayerChange MarkerKind = iota
	// KindHeight is a comment stating the current layer's Z.
	KindHeight
)

// MarkerMatch is the structured result of a dialect matching one line.
type MarkerMatch struct {
	Dialect string
	Kind    MarkerKind
	Height  float64 // valid for KindHeight
}

// Dialect recognizes one slicer's layer comment.
type Dialect interface {
	// Name returns the unique name of the dialect.
	Name() string
	// Match inspects a trimmed line and reports a match.
	Match(trimmed string) (MarkerMatch, bool)
}

// DialectRegistry holds dialects in priority order. The first dialect that
// matches a line decides what the line is.
type DialectRegistry struct {
	dialects []Dialect
}

// Global registry instance
var globalRegistry = NewDialectRegistry()

// NewDialectRegistry returns a registry with the built-in dialects, most
// reliable first.
func NewDialectRegistry() *DialectRegistry {
	return &DialectRegistry{
		dialects: []Dialect{
			&heightDialect{name: "z_comment", re: regexp.MustCompile(`(?i)^;\s*Z\s*:\s*([-+]?(?:\d+\.?\d*|\.\d+))\s*$`), group: 1},
			&heightDialect{name: "prusa_layer_z", re: regexp.MustCompile(`(?i)^;\s*layer\s+\d+\s*,\s*z\s*=\s*([-+]?(?:\d+\.?\d*|\.\d+))`), group: 1},
			&boundaryDialect{name: "layer_change", re: regexp.MustCompile(`(?i)^;\s*(?:LAYER_CHANGE|CHANGE_LAYER)\b`)},
			&boundaryDialect{name: "layer_boundary", re: regexp.MustCompile(`(?i)^;\s*(?:BEFORE|AFTER)_LAYER_CHANGE\b`)},
			&boundaryDialect{name: "layer_index", re: regexp.MustCompile(`(?i)^;\s*LAYER\s*:\s*-?\d+`)},
			&boundaryDialect{name: "prusa_layer", re: regexp.MustCompile(`(?i)^;\s*layer\s+\d+\b`)},
		},
	}
}

// GetGlobalRegistry returns the shared registry.
func GetGlobalRegistry() *DialectRegistry {
	return globalRegistry
}

// Register appends a dialect with the lowest priority.
func (r *DialectRegistry) Register(d Dialect) {
	r.dialects = append(r.dialects, d)
}

// Names lists the dialects in priority order.
func (r *DialectRegistry) Names() []string {
	names := make([]string, len(r.dialects))
	for i, d := range r.dialects {
		names[i] = d.Name()
	}
	return names
}

// Match runs the dialects in order and returns the first match.
func (r *DialectRegistry) Match(line string) (MarkerMatch, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, ";") {
		return MarkerMatch{}, false
	}
	for _, d := range r.dialects {
		if m, ok := d.Match(trimmed); ok {
			return m, true
		}
	}
	return MarkerMatch{}, false
}

// IsLayerChange reports whether a line is a height-less layer boundary.
func (r *DialectRegistry) IsLayerChange(line string) bool {
	m, ok := r.Match(line)
	return ok && m.Kind == KindLayerChange
}

// GetDialectByName returns a dialect by its name.
func (r *DialectRegistry) GetDialectByName(name string) (Dialect, error) {
	name = strings.ToLower(name)
	for _, d := range r.dialects {
		if strings.ToLower(d.Name()) == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("dialect not found: %s", name)
}

// heightDialect matches a comment whose capture group is the layer Z.
type heightDialect struct {
	name  string
	re    *regexp.Regexp
	group int
}

func (d *heightDialect) Name() string {
	return d.name
}

func (d *heightDialect) Match(trimmed string) (MarkerMatch, bool) {
	m := d.re.FindStringSubmatch(trimmed)
	if m == nil {
		return MarkerMatch{}, false
	}
	z, err := strconv.ParseFloat(m[d.group], 64)
	if err != nil {
		return MarkerMatch{}, false
	}
	return MarkerMatch{Dialect: d.name, Kind: KindHeight, Height: z}, true
}

// boundaryDialect matches a layer boundary comment without height.
type boundaryDialect struct {
	name string
	re   *regexp.Regexp
}

func (d *boundaryDialect) Name() string {
	return d.name
}

func (d *boundaryDialect) Match(trimmed string) (MarkerMatch, bool) {
	if !d.re.MatchString(trimmed) {
		return MarkerMatch{}, false
	}
	return MarkerMatch{Dialect: d.name, Kind: KindLayerChange}, true
}

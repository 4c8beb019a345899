// Package models contains domain types for the print resume service.
package models

// LayerMarker is a layer boundary found in a slicer comment.
// Height is nil when the comment carries no Z value.
type LayerMarker struct {
	LineIndex int      `json:"lineIndex" msgpack:"lineIndex"`
	Height    *float64 `json:"height,omitempty" msgpack:"height,omitempty"`
	Dialect   string   `json:"dialect" msgpack:"dialect"`
}

// HasHeight reports whether the marker carries an explicit Z value.
func (m LayerMarker) HasHeight() bool {
	return m.Height != nil
}

// MotionZValue is a Z coordinate taken from a G0/G1 move.
type MotionZValue struct {
	LineIndex int     `json:"lineIndex" msgpack:"lineIndex"`
	Z         float64 `json:"z" msgpack:"z"`
}

// TemperatureReading holds the target temperatures of a print.
// A nil field means the value was neither detected nor supplied.
type TemperatureReading struct {
	Bed    *float64 `json:"bed,omitempty"`
	Hotend *float64 `json:"hotend,omitempty"`
	Source string   `json:"source,omitempty"` // "macro", "commands", "override", "mixed"
}

// Complete reports whether both temperatures are known.
func (t TemperatureReading) Complete() bool {
	return t.Bed != nil && t.Hotend != nil
}

// ResumeConfig is the caller-supplied input of a resume run.
type ResumeConfig struct {
	TargetHeight       float64  `json:"targetHeight" yaml:"target_height"`
	LayerHeight        float64  `json:"layerHeight" yaml:"layer_height"`
	SafeHomeX          float64  `json:"safeHomeX" yaml:"safe_home_x"`
	SafeHomeY          float64  `json:"safeHomeY" yaml:"safe_home_y"`
	BedTempOverride    *float64 `json:"bedTempOverride,omitempty" yaml:"bed_temp,omitempty"`
	HotendTempOverride *float64 `json:"hotendTempOverride,omitempty" yaml:"hotend_temp,omitempty"`
}

// Threshold is the lowest layer height that still counts as the resume layer.
func (c ResumeConfig) Threshold() float64 {
	return c.TargetHeight - c.LayerHeight
}

// ResolveStrategy names the heuristic that produced a ResumePoint.
type ResolveStrategy string

const (
	StrategyMarker ResolveStrategy = "marker"
	StrategyLegacy ResolveStrategy = "legacy"
	StrategyMotion ResolveStrategy = "motion"
	StrategyNone   ResolveStrategy = "none"
)

// ResumePoint is the line of the original document where playback restarts.
type ResumePoint struct {
	LineIndex int             `json:"lineIndex"`
	Strategy  ResolveStrategy `json:"strategy"`
	Height    *float64        `json:"height,omitempty"` // height of the selected layer, when known
	Exceeded  bool            `json:"exceeded,omitempty"` // target above every known layer
}

// OutputDocument is the synthesized header followed by the stripped tail.
type OutputDocument struct {
	Header []string `json:"header"`
	Body   []string `json:"body"`
}

// Len returns the total number of lines.
func (d *OutputDocument) Len() int {
	return len(d.Header) + len(d.Body)
}

// Lines returns header and body as one slice.
func (d *OutputDocument) Lines() []string {
	out := make([]string, 0, d.Len())
	out = append(out, d.Header...)
	return append(out, d.Body...)
}

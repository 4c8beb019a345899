// Package resume rebuilds a G-code file so an interrupted print can continue
// from a given Z height.
package resume

import (
	"errors"
	"fmt"
	"math"

	"github.com/print-resume/backend/internal/gcode"
	"github.com/print-resume/backend/internal/models"
)

// ErrInvalidConfig is returned for a ResumeConfig that cannot be resolved.
var ErrInvalidConfig = errors.New("invalid resume config")

// StageCallback is called as the engine moves through its stages.
type StageCallback func(stage string, progress float64)

// Options tune the engine. The zero value uses the defaults.
type Options struct {
	Registry         *gcode.DialectRegistry
	KeepPrefixes     []string
	PauseCommand     string
	TemperatureLines int
	OnStage          StageCallback
}

// Result is everything a resume run produced.
type Result struct {
	Point        models.ResumePoint
	Temperatures models.TemperatureReading
	Markers      []models.LayerMarker
	Motion       []models.MotionZValue
	Output       *models.OutputDocument
	Removed      int // lines dropped by the stripper
	Warnings     []string
}

// Engine runs the resume pipeline.
type Engine struct {
	opts Options
}

// NewEngine creates an engine.
func NewEngine(opts Options) *Engine {
	if opts.Registry == nil {
		opts.Registry = gcode.GetGlobalRegistry()
	}
	return &Engine{opts: opts}
}

// Validate checks a ResumeConfig.
func Validate(cfg models.ResumeConfig) error {
	if math.IsNaN(cfg.TargetHeight) || math.IsInf(cfg.TargetHeight, 0) || cfg.TargetHeight < 0 {
		return fmt.Errorf("%w: target height must be a non-negative number, got %v", ErrInvalidConfig, cfg.TargetHeight)
	}
	if math.IsNaN(cfg.LayerHeight) || math.IsInf(cfg.LayerHeight, 0) || cfg.LayerHeight <= 0 {
		return fmt.Errorf("%w: layer height must be positive, got %v", ErrInvalidConfig, cfg.LayerHeight)
	}
	if t := cfg.BedTempOverride; t != nil && !(*t > 0) {
		return fmt.Errorf("%w: bed temperature must be positive, got %v", ErrInvalidConfig, *t)
	}
	if t := cfg.HotendTempOverride; t != nil && !(*t > 0) {
		return fmt.Errorf("%w: hotend temperature must be positive, got %v", ErrInvalidConfig, *t)
	}
	return nil
}

// Run resolves the resume point of doc and builds the output document.
func (e *Engine) Run(doc *gcode.Document, cfg models.ResumeConfig) (*Result, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	res := &Result{}

	e.stage("scanning markers", 10)
	res.Markers = e.opts.Registry.ScanMarkers(doc)

	e.stage("scanning motion", 30)
	res.Motion = gcode.ScanMotion(doc)

	e.stage("detecting temperatures", 45)
	res.Temperatures = gcode.ResolveTemperatures(doc, e.opts.TemperatureLines, cfg.BedTempOverride, cfg.HotendTempOverride)

	e.stage("resolving resume point", 55)
	res.Point = ResolveScanned(doc, res.Markers, res.Motion, cfg.Threshold())

	e.stage("stripping start section", 70)
	tail := doc.Tail(res.Point.LineIndex)
	body := Strip(tail, e.opts.KeepPrefixes)
	res.Removed = len(tail) - len(body)

	e.stage("building header", 85)
	header := BuildHeader(HeaderParams{
		ResumeHeight: cfg.TargetHeight,
		LayerHeight:  cfg.LayerHeight,
		Temperatures: res.Temperatures,
		PauseCommand: e.opts.PauseCommand,
	})
	res.Output = Assemble(header, body)
	res.Warnings = warningsFor(res)

	e.stage("done", 100)
	return res, nil
}

func (e *Engine) stage(name string, progress float64) {
	if e.opts.OnStage != nil {
		e.opts.OnStage(name, progress)
	}
}

func warningsFor(res *Result) []string {
	var warnings []string
	switch res.Point.Strategy {
	case models.StrategyLegacy:
		warnings = append(warnings, "no layer height comments found; layer markers were paired with Z moves")
	case models.StrategyMotion:
		warnings = append(warnings, "no layer change markers found; resume point was taken from Z moves")
	case models.StrategyNone:
		warnings = append(warnings, "no resume point found; the whole file is resumed from line 0")
	}
	if res.Point.Exceeded && res.Point.Strategy != models.StrategyNone {
		warnings = append(warnings, "target height is above every known layer; resuming at the top layer")
	}
	switch {
	case res.Temperatures.Bed == nil && res.Temperatures.Hotend == nil:
		warnings = append(warnings, "temperatures not detected; heat the bed and hotend manually")
	case res.Temperatures.Bed == nil:
		warnings = append(warnings, "bed temperature not detected; set it manually")
	case res.Temperatures.Hotend == nil:
		warnings = append(warnings, "hotend temperature not detected; set it manually")
	}
	return warnings
}

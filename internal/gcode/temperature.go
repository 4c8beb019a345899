package gcode

import (
	"github.com/print-resume/backend/internal/models"
)

// DefaultTemperatureScanLines is how many leading lines are searched for
// heating commands.
const DefaultTemperatureScanLines = 500

// Start macro argument names. The first name of each list is canonical.
var (
	macroBedKeys    = []string{"BED", "BED_TEMP"}
	macroHotendKeys = []string{"HOTEND", "EXTRUDER", "EXTRUDER_TEMP"}
)

// ExtractTemperatures scans the first limit lines (DefaultTemperatureScanLines
// when limit <= 0) for the print's bed and hotend targets.
//
// A start macro carrying both values wins outright and ends the scan. Otherwise
// the first strictly positive M140/M190 sets the bed and the first strictly
// positive M104/M109 sets the hotend; the scan stops once both are known.
func ExtractTemperatures(doc *Document, limit int) models.TemperatureReading {
	if limit <= 0 {
		limit = DefaultTemperatureScanLines
	}

	var reading models.TemperatureReading
	for _, line := range doc.Head(limit) {
		cmd := ParseCommand(line)
		if cmd == nil {
			continue
		}

		if bed, hotend, ok := startMacroTemperatures(cmd); ok {
			return models.TemperatureReading{Bed: &bed, Hotend: &hotend, Source: "macro"}
		}

		switch {
		case cmd.Is("M140", "M190"):
			if reading.Bed == nil {
				if v, ok := heaterTarget(cmd); ok {
					reading.Bed = &v
				}
			}
		case cmd.Is("M104", "M109"):
			if reading.Hotend == nil && primaryTool(cmd) {
				if v, ok := heaterTarget(cmd); ok {
					reading.Hotend = &v
				}
			}
		}

		if reading.Complete() {
			break
		}
	}

	if reading.Bed != nil || reading.Hotend != nil {
		reading.Source = "commands"
	}
	return reading
}

// ApplyOverrides replaces detected values with caller-supplied ones.
func ApplyOverrides(detected models.TemperatureReading, bed, hotend *float64) models.TemperatureReading {
	if bed == nil && hotend == nil {
		return detected
	}
	out := detected
	if bed != nil {
		v := *bed
		out.Bed = &v
	}
	if hotend != nil {
		v := *hotend
		out.Hotend = &v
	}
	if bed != nil && hotend != nil || detected.Source == "" {
		out.Source = "override"
	} else {
		out.Source = "mixed"
	}
	return out
}

// ResolveTemperatures detects temperatures only for the values the caller
// did not supply.
func ResolveTemperatures(doc *Document, limit int, bed, hotend *float64) models.TemperatureReading {
	if bed != nil && hotend != nil {
		return ApplyOverrides(models.TemperatureReading{}, bed, hotend)
	}
	return ApplyOverrides(ExtractTemperatures(doc, limit), bed, hotend)
}

func startMacroTemperatures(cmd *Command) (bed, hotend float64, ok bool) {
	bed, okBed := firstFloatArg(cmd, macroBedKeys)
	hotend, okHotend := firstFloatArg(cmd, macroHotendKeys)
	return bed, hotend, okBed && okHotend
}

func firstFloatArg(cmd *Command, keys []string) (float64, bool) {
	for _, k := range keys {
		if v, ok := cmd.FloatArg(k); ok {
			return v, true
		}
	}
	return 0, false
}

// heaterTarget reads S (or R, Marlin's wait-for-cooling form) and rejects
// zero, which turns a heater off.
func heaterTarget(cmd *Command) (float64, bool) {
	v, ok := cmd.FloatArg("S")
	if !ok {
		v, ok = cmd.FloatArg("R")
	}
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}

// primaryTool ignores heating commands aimed at a secondary extruder.
func primaryTool(cmd *Command) bool {
	t, ok := cmd.FloatArg("T")
	return !ok || t == 0
}

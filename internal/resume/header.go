package resume

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/print-resume/backend/internal/models"
)

// DefaultPauseCommand stops the print until the operator resumes it.
const DefaultPauseCommand = "M0"

// HeaderParams is the input of header synthesis.
type HeaderParams struct {
	ResumeHeight float64
	LayerHeight  float64
	Temperatures models.TemperatureReading
	PauseCommand string
}

// headerRule renders one independent part of the header.
type headerRule func(p HeaderParams) []string

// headerRules are applied in order; their outputs are concatenated.
var headerRules = []headerRule{
	identityComments,
	instructionComments,
	absolutePositioning,
	heatingCommands,
	homeXY,
	operatorPause,
	positionReset,
	motionModes,
}

// BuildHeader returns the leading command block of a resumed file. Identical
// params always give identical output.
func BuildHeader(p HeaderParams) []string {
	if p.PauseCommand == "" {
		p.PauseCommand = DefaultPauseCommand
	}
	var lines []string
	for _, rule := range headerRules {
		lines = append(lines, rule(p)...)
	}
	return lines
}

func identityComments(p HeaderParams) []string {
	return []string{
		"; === PRINT RESUME ===",
		fmt.Sprintf("; Resume height: %.2fmm", p.ResumeHeight),
		fmt.Sprintf("; Layer height: %.2fmm", p.LayerHeight),
		";",
	}
}

func instructionComments(HeaderParams) []string {
	return []string{
		"; This file continues an interrupted print. Before starting it:",
		"; 1. Leave the partial print on the bed; do not move it",
		"; 2. Clear blobs and strings from the nozzle and the top layer",
		"; 3. The printer heats up and homes X and Y only; Z is never homed",
		"; 4. At the pause, lower the nozzle until it just touches the top layer",
		"; 5. Resume the print; Z is then set to the resume height",
		";",
	}
}

func absolutePositioning(HeaderParams) []string {
	return []string{"G90 ; Absolute positioning"}
}

func heatingCommands(p HeaderParams) []string {
	bed, hotend := p.Temperatures.Bed, p.Temperatures.Hotend
	switch {
	case bed != nil && hotend != nil:
		return []string{bedWait(*bed), hotendWait(*hotend)}
	case bed != nil:
		return []string{bedWait(*bed), "; WARNING: Hotend temperature not detected - set it manually before resuming"}
	case hotend != nil:
		return []string{"; WARNING: Bed temperature not detected - set it manually before resuming", hotendWait(*hotend)}
	default:
		return []string{"; WARNING: Temperatures not detected - heat the bed and hotend manually before resuming"}
	}
}

func bedWait(t float64) string {
	return fmt.Sprintf("M190 S%s ; Wait for bed temperature", formatTemp(t))
}

func hotendWait(t float64) string {
	return fmt.Sprintf("M109 S%s ; Wait for hotend temperature", formatTemp(t))
}

func formatTemp(t float64) string {
	return strconv.FormatFloat(t, 'f', -1, 64)
}

func homeXY(HeaderParams) []string {
	return []string{"G28 X Y ; Home X and Y only"}
}

func operatorPause(p HeaderParams) []string {
	msg := fmt.Sprintf("Lower nozzle onto the print at Z=%.2fmm, then resume", p.ResumeHeight)
	cmd := strings.TrimSpace(p.PauseCommand)
	switch strings.ToUpper(cmd) {
	case "M0", "M1":
		return []string{cmd + " " + msg}
	default:
		// Macros such as Klipper's PAUSE take no free text.
		return []string{"M117 " + msg, cmd}
	}
}

func positionReset(p HeaderParams) []string {
	return []string{
		fmt.Sprintf("G92 Z%.3f ; Set current Z to resume height", p.ResumeHeight),
		"G92 E0 ; Reset extruder position",
	}
}

func motionModes(HeaderParams) []string {
	return []string{
		"M83 ; Relative extrusion",
		"G90 ; Absolute positioning",
		";",
	}
}

package resume

import (
	"strconv"
	"strings"
)

const macroTemplate = `
[gcode_macro RESUME_PRINT]
description: Resume failed print from specific height
gcode:
    {% set Z = params.Z|default(0)|float %}
    {% set FILENAME = params.FILENAME|default("") %}
    {% set LAYER_HEIGHT = params.LAYER_HEIGHT|default(0.2)|float %}

    {% if FILENAME == "" %}
        { action_raise_error("FILENAME parameter required") }
    {% endif %}

    SAVE_GCODE_STATE NAME=resume_state

    ; Heat bed and nozzle
    M140 S{printer.heater_bed.target} ; Re-apply bed temp
    M104 S{printer.extruder.target}   ; Re-apply nozzle temp

    ; Wait for temperatures
    M190 S{printer.heater_bed.target}
    M109 S{printer.extruder.target}

    ; Home XY
    G28 X Y

    ; Home Z at safe position (adjust coordinates in your printer.cfg)
    SAFE_Z_HOME

    ; Pause for manual nozzle positioning
    PAUSE

    ; Set current Z position
    G92 Z{Z}

    ; Reset extruder
    G92 E0

    ; Continue with print
    RESTORE_GCODE_STATE NAME=resume_state
    RESUME

[gcode_macro SAFE_Z_HOME]
gcode:
    ; Move to safe position for Z homing
    G90
    G0 X@SAFE_X@ Y@SAFE_Y@ F6000
    G28 Z
`

// MacroTemplate returns the Klipper macros that perform the resume steps on
// the printer, with the safe Z homing position filled in.
func MacroTemplate(safeX, safeY float64) string {
	r := strings.NewReplacer(
		"@SAFE_X@", strconv.FormatFloat(safeX, 'f', -1, 64),
		"@SAFE_Y@", strconv.FormatFloat(safeY, 'f', -1, 64),
	)
	return r.Replace(macroTemplate)
}

package resume

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/print-resume/backend/internal/gcode"
	"github.com/print-resume/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func temps(bed, hotend *float64) models.TemperatureReading {
	return models.TemperatureReading{Bed: bed, Hotend: hotend}
}

func TestBuildHeader_Deterministic(t *testing.T) {
	p := HeaderParams{ResumeHeight: 12.4, LayerHeight: 0.2, Temperatures: temps(fp(60), fp(215))}
	assert.Equal(t, BuildHeader(p), BuildHeader(p))
}

func TestBuildHeader_Ordering(t *testing.T) {
	h := BuildHeader(HeaderParams{ResumeHeight: 12.4, LayerHeight: 0.2, Temperatures: temps(fp(60), fp(215))})

	assert.Equal(t, "; === PRINT RESUME ===", h[0])
	assert.Equal(t, "; Resume height: 12.40mm", h[1])
	assert.Equal(t, "; Layer height: 0.20mm", h[2])

	pos := func(prefix string) int {
		for i, line := range h {
			if strings.HasPrefix(line, prefix) {
				return i
			}
		}
		return -1
	}
	bed, hotend := pos("M190 S60"), pos("M109 S215")
	home, pause := pos("G28 X Y"), pos("M0 ")
	setZ, resetE := pos("G92 Z12.400"), pos("G92 E0")
	rel := pos("M83")

	require.NotEqual(t, -1, bed)
	require.NotEqual(t, -1, hotend)
	assert.Less(t, bed, hotend)
	assert.Less(t, hotend, home)
	assert.Less(t, home, pause)
	assert.Less(t, pause, setZ)
	assert.Less(t, setZ, resetE)
	assert.Less(t, resetE, rel)
	assert.Equal(t, ";", h[len(h)-1])

	for _, line := range h {
		assert.NotContains(t, line, "G28 Z")
		assert.NotEqual(t, "G28", strings.TrimSpace(line))
	}
}

func TestBuildHeader_NoTemperatures(t *testing.T) {
	h := BuildHeader(HeaderParams{ResumeHeight: 5, LayerHeight: 0.2})

	joined := strings.Join(h, "\n")
	assert.NotContains(t, joined, "M190")
	assert.NotContains(t, joined, "M109")
	assert.Contains(t, joined, "; WARNING: Temperatures not detected")
}

func TestBuildHeader_PartialTemperatures(t *testing.T) {
	joined := strings.Join(BuildHeader(HeaderParams{ResumeHeight: 5, LayerHeight: 0.2, Temperatures: temps(fp(60), nil)}), "\n")
	assert.Contains(t, joined, "M190 S60 ")
	assert.NotContains(t, joined, "M109")
	assert.Contains(t, joined, "Hotend temperature not detected")

	joined = strings.Join(BuildHeader(HeaderParams{ResumeHeight: 5, LayerHeight: 0.2, Temperatures: temps(nil, fp(212.5))}), "\n")
	assert.Contains(t, joined, "M109 S212.5 ")
	assert.NotContains(t, joined, "M190")
}

func TestBuildHeader_PauseCommand(t *testing.T) {
	h := BuildHeader(HeaderParams{ResumeHeight: 5, LayerHeight: 0.2, PauseCommand: "PAUSE"})
	joined := strings.Join(h, "\n")
	assert.Contains(t, joined, "M117 Lower nozzle onto the print at Z=5.00mm, then resume\nPAUSE")

	h = BuildHeader(HeaderParams{ResumeHeight: 5, LayerHeight: 0.2, PauseCommand: "M1"})
	assert.Contains(t, strings.Join(h, "\n"), "M1 Lower nozzle")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  models.ResumeConfig
		ok   bool
	}{
		{"valid", models.ResumeConfig{TargetHeight: 10, LayerHeight: 0.2}, true},
		{"zero target", models.ResumeConfig{TargetHeight: 0, LayerHeight: 0.2}, true},
		{"negative target", models.ResumeConfig{TargetHeight: -1, LayerHeight: 0.2}, false},
		{"nan target", models.ResumeConfig{TargetHeight: math.NaN(), LayerHeight: 0.2}, false},
		{"zero layer height", models.ResumeConfig{TargetHeight: 1, LayerHeight: 0}, false},
		{"infinite layer height", models.ResumeConfig{TargetHeight: 1, LayerHeight: math.Inf(1)}, false},
		{"zero bed override", models.ResumeConfig{TargetHeight: 1, LayerHeight: 0.2, BedTempOverride: fp(0)}, false},
		{"negative hotend override", models.ResumeConfig{TargetHeight: 1, LayerHeight: 0.2, HotendTempOverride: fp(-5)}, false},
		{"overrides", models.ResumeConfig{TargetHeight: 1, LayerHeight: 0.2, BedTempOverride: fp(60), HotendTempOverride: fp(200)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.cfg)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidConfig))
			}
		})
	}
}

func TestEngine_Run(t *testing.T) {
	d := layeredDocument(0.2, 0.4, 0.6, 0.8, 1.0, 1.2)

	var stages []string
	e := NewEngine(Options{OnStage: func(stage string, _ float64) { stages = append(stages, stage) }})
	res, err := e.Run(d, models.ResumeConfig{TargetHeight: 1.0, LayerHeight: 0.2})
	require.NoError(t, err)

	assert.Equal(t, models.StrategyMarker, res.Point.Strategy)
	assert.Equal(t, 60.0, *res.Temperatures.Bed)
	assert.Equal(t, 200.0, *res.Temperatures.Hotend)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, "done", stages[len(stages)-1])

	// The resume layer's own ";LAYER_CHANGE" and ";Z:" comments are stripped.
	assert.Equal(t, ";TYPE:WALL-OUTER", res.Output.Body[0])
	assert.Equal(t, 2, res.Removed)
	assert.Equal(t, len(res.Output.Header)+d.Len()-res.Point.LineIndex-res.Removed, res.Output.Len())

	// Body is a suffix of the original document.
	tail := d.Tail(res.Point.LineIndex)
	assert.Equal(t, tail[len(tail)-len(res.Output.Body):], res.Output.Body)
}

func TestEngine_Run_TemperatureOverrides(t *testing.T) {
	d := gcode.NewDocument([]string{";Z:0.2", "G1 Z0.2", "G1 X1 E1"})
	res, err := NewEngine(Options{}).Run(d, models.ResumeConfig{
		TargetHeight: 0.2, LayerHeight: 0.2, BedTempOverride: fp(70), HotendTempOverride: fp(240),
	})
	require.NoError(t, err)
	assert.Contains(t, res.Output.Header, "M190 S70 ; Wait for bed temperature")
	assert.Contains(t, res.Output.Header, "M109 S240 ; Wait for hotend temperature")
}

func TestEngine_Run_EmptyDocument(t *testing.T) {
	res, err := NewEngine(Options{}).Run(gcode.NewDocument(nil), models.ResumeConfig{TargetHeight: 1, LayerHeight: 0.2})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Point.LineIndex)
	assert.Empty(t, res.Output.Body)
	assert.NotEmpty(t, res.Output.Header)
	assert.NotEmpty(t, res.Warnings)
}

func TestEngine_Run_Invalid(t *testing.T) {
	_, err := NewEngine(Options{}).Run(gcode.NewDocument(nil), models.ResumeConfig{TargetHeight: 1})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestWriteDocument(t *testing.T) {
	out := Assemble([]string{"; head"}, []string{"G1 X1", "G1 X2"})

	var buf bytes.Buffer
	n, err := WriteDocument(&buf, out)
	require.NoError(t, err)
	assert.Equal(t, "; head\nG1 X1\nG1 X2\n", buf.String())
	assert.Equal(t, int64(buf.Len()), n)

	path := filepath.Join(t.TempDir(), "out.gcode")
	require.NoError(t, SaveDocument(path, out))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, buf.String(), string(data))
}

func TestMacroTemplate(t *testing.T) {
	m := MacroTemplate(0, 30)
	assert.Contains(t, m, "[gcode_macro RESUME_PRINT]")
	assert.Contains(t, m, "[gcode_macro SAFE_Z_HOME]")
	assert.Contains(t, m, "G0 X0 Y30 F6000")
	assert.NotContains(t, m, "@SAFE_")
}

func TestInstructions(t *testing.T) {
	d := layeredDocument(0.2, 0.4)
	res, err := NewEngine(Options{}).Run(d, models.ResumeConfig{TargetHeight: 5, LayerHeight: 0.2})
	require.NoError(t, err)

	params := HeaderParams{ResumeHeight: 5, LayerHeight: 0.2}
	md := Instructions(res, params, "part_resumed.gcode")
	assert.Contains(t, md, "Heat bed to print temperature (60°C)")
	assert.Contains(t, md, "`part_resumed.gcode`")
	assert.Contains(t, md, "## Warnings")

	html, err := InstructionsHTML(res, params, "part_resumed.gcode")
	require.NoError(t, err)
	assert.Contains(t, html, "<h1>Next steps</h1>")
	assert.Contains(t, html, "<ol>")
	assert.Contains(t, html, "<code>part_resumed.gcode</code>")
}

package gcode

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(lines ...string) *Document {
	return NewDocument(lines)
}

func TestReadDocument(t *testing.T) {
	d, err := ReadDocument(strings.NewReader("G28\r\nG1 Z0.2\n;comment\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, d.Len())
	assert.Equal(t, "G28", d.Line(0))
	assert.Equal(t, ";comment", d.Line(2))
	assert.Equal(t, "", d.Line(3))
	assert.Equal(t, []string{"G1 Z0.2", ";comment"}, d.Tail(1))
	assert.Empty(t, d.Tail(10))
}

func TestReadDocument_LineTooLong(t *testing.T) {
	text := "G28\n;" + strings.Repeat("x", maxLineLength+1) + "\n"
	d, err := ReadDocument(strings.NewReader(text))
	require.Error(t, err)
	assert.ErrorIs(t, err, bufio.ErrTooLong)
	assert.Nil(t, d)
}

func TestLoadDocument_Missing(t *testing.T) {
	_, err := LoadDocument(filepath.Join(t.TempDir(), "missing.gcode"))
	assert.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		name string
		args map[string]string
	}{
		{"G1 X10 Y5.5 Z0.2 F3000 ; move", "G1", map[string]string{"X": "10", "Y": "5.5", "Z": "0.2", "F": "3000"}},
		{"g28 x y", "G28", map[string]string{"X": "", "Y": ""}},
		{"PRINT_START BED=60 HOTEND=210", "PRINT_START", map[string]string{"BED": "60", "HOTEND": "210"}},
		{"M104 (set hotend) S200", "M104", map[string]string{"S": "200"}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			cmd := ParseCommand(tt.line)
			require.NotNil(t, cmd)
			assert.Equal(t, tt.name, cmd.Name)
			assert.Equal(t, tt.args, cmd.Args)
		})
	}

	assert.Nil(t, ParseCommand("   "))
	assert.Nil(t, ParseCommand("; only a comment"))
}

func TestCommand_Is(t *testing.T) {
	assert.True(t, ParseCommand("G01 Z1").Is("G1"))
	assert.True(t, ParseCommand("G0 Z1").Is("G00"))
	assert.False(t, ParseCommand("G10").Is("G1"))
	assert.False(t, ParseCommand("M1040 S1").Is("M104"))
}

func TestDialectRegistry_Match(t *testing.T) {
	r := NewDialectRegistry()
	tests := []struct {
		line    string
		dialect string
		kind    MarkerKind
		height  float64
	}{
		{";Z:0.4", "z_comment", KindHeight, 0.4},
		{"; z: 1.2", "z_comment", KindHeight, 1.2},
		{"; layer 3, z = 0.800", "prusa_layer_z", KindHeight, 0.8},
		{";LAYER_CHANGE", "layer_change", KindLayerChange, 0},
		{";CHANGE_LAYER", "layer_change", KindLayerChange, 0},
		{";BEFORE_LAYER_CHANGE", "layer_boundary", KindLayerChange, 0},
		{";AFTER_LAYER_CHANGE", "layer_boundary", KindLayerChange, 0},
		{";LAYER:12", "layer_index", KindLayerChange, 0},
		{"; layer 7", "prusa_layer", KindLayerChange, 0},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			m, ok := r.Match(tt.line)
			require.True(t, ok)
			assert.Equal(t, tt.dialect, m.Dialect)
			assert.Equal(t, tt.kind, m.Kind)
			assert.InDelta(t, tt.height, m.Height, 1e-9)
		})
	}

	for _, line := range []string{";LAYER_COUNT:40", ";HEIGHT:0.2", "G1 Z0.2", ";TYPE:WALL-OUTER", ";Z:abc"} {
		_, ok := r.Match(line)
		assert.False(t, ok, line)
	}
}

func TestDialectRegistry_Names(t *testing.T) {
	r := NewDialectRegistry()
	names := r.Names()
	assert.Equal(t, "z_comment", names[0])

	d, err := r.GetDialectByName("LAYER_INDEX")
	require.NoError(t, err)
	assert.Equal(t, "layer_index", d.Name())

	_, err = r.GetDialectByName("nope")
	assert.Error(t, err)
}

func TestScanMarkers_BackdatesToLayerChange(t *testing.T) {
	d := doc(
		"G28",             // 0
		";LAYER_CHANGE",   // 1
		";Z:0.2",          // 2
		";HEIGHT:0.2",     // 3
		"G1 Z0.2",         // 4
		"G1 X1 E1",        // 5
		";LAYER_CHANGE",   // 6
		";Z:0.4",          // 7
		"G1 Z0.4",         // 8
		"G1 X2 E1",        // 9
	)

	markers := ScanMarkers(d)
	require.Len(t, markers, 2)
	assert.Equal(t, 1, markers[0].LineIndex)
	assert.InDelta(t, 0.2, *markers[0].Height, 1e-9)
	assert.Equal(t, 6, markers[1].LineIndex)
	assert.InDelta(t, 0.4, *markers[1].Height, 1e-9)
}

func TestScanMarkers_LookbackStopsAtCode(t *testing.T) {
	d := doc(
		";LAYER_CHANGE", // 0
		"G1 X0",         // 1
		";Z:0.2",        // 2
	)
	markers := ScanMarkers(d)
	require.Len(t, markers, 2)
	assert.False(t, markers[0].HasHeight())
	assert.Equal(t, 0, markers[0].LineIndex)
	assert.Equal(t, 2, markers[1].LineIndex)
}

func TestScanMarkers_LookbackWindow(t *testing.T) {
	d := doc(
		";LAYER_CHANGE", // 0, six lines before the height comment
		";a", ";b", ";c", ";d", ";e",
		";Z:0.2", // 6
	)
	markers := HeightMarkers(ScanMarkers(d))
	require.Len(t, markers, 1)
	assert.Equal(t, 6, markers[0].LineIndex)
}

func TestScanMarkers_OrderingInvariant(t *testing.T) {
	var lines []string
	for i := 1; i <= 50; i++ {
		lines = append(lines,
			";BEFORE_LAYER_CHANGE",
			fmt.Sprintf(";LAYER:%d", i),
			fmt.Sprintf(";Z:%.1f", float64(i)*0.2),
			fmt.Sprintf("G1 Z%.1f", float64(i)*0.2),
			"G1 X10 Y10 E1",
			";AFTER_LAYER_CHANGE",
		)
	}
	markers := ScanMarkers(NewDocument(lines))
	require.NotEmpty(t, markers)

	seen := map[int]bool{}
	for i, m := range markers {
		assert.False(t, seen[m.LineIndex], "line %d contributed twice", m.LineIndex)
		seen[m.LineIndex] = true
		if i > 0 {
			assert.Greater(t, m.LineIndex, markers[i-1].LineIndex)
		}
	}
	assert.Len(t, HeightMarkers(markers), 50)
}

func TestScanMotion(t *testing.T) {
	d := doc(
		"G1 Z0.2 F600",      // 0
		"G1 X1 Y1 E0.5",     // 1
		"G0 Z0.6 ; hop",     // 2
		"G1 Zbad",           // 3
		"; G1 Z9",           // 4
		"G92 Z5",            // 5
		"G01 X1 Z1.0",       // 6
		"M104 S200 ; G1 Z4", // 7
	)
	values := ScanMotion(d)
	require.Len(t, values, 3)
	assert.Equal(t, 0, values[0].LineIndex)
	assert.InDelta(t, 0.2, values[0].Z, 1e-9)
	assert.Equal(t, 2, values[1].LineIndex)
	assert.Equal(t, 6, values[2].LineIndex)
	for i := 1; i < len(values); i++ {
		assert.GreaterOrEqual(t, values[i].LineIndex, values[i-1].LineIndex)
	}
}

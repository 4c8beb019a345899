package gcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 {
	return &v
}

func TestExtractTemperatures_StartMacroWins(t *testing.T) {
	d := doc(
		"M140 S60",                        // 0
		"; generated",                     // 1
		"G21",                             // 2
		"PRINT_START BED=85 HOTEND=230",   // 3
		"M190 S100",                       // 4
		"M109 S250",                       // 5
	)
	r := ExtractTemperatures(d, 0)
	require.NotNil(t, r.Bed)
	require.NotNil(t, r.Hotend)
	assert.Equal(t, 85.0, *r.Bed)
	assert.Equal(t, 230.0, *r.Hotend)
	assert.Equal(t, "macro", r.Source)
}

func TestExtractTemperatures_FirstPositiveWins(t *testing.T) {
	d := doc(
		"M140 S0",
		"M104 S0",
		"M140 S60",
		"M104 S205 T1",
		"M104 S210",
		"M190 S65",
		"M109 S215",
	)
	r := ExtractTemperatures(d, 0)
	require.NotNil(t, r.Bed)
	require.NotNil(t, r.Hotend)
	assert.Equal(t, 60.0, *r.Bed)
	assert.Equal(t, 210.0, *r.Hotend)
	assert.Equal(t, "commands", r.Source)
}

func TestExtractTemperatures_Partial(t *testing.T) {
	r := ExtractTemperatures(doc("M190 S70", "G28"), 0)
	require.NotNil(t, r.Bed)
	assert.Nil(t, r.Hotend)

	r = ExtractTemperatures(doc("G28", "G1 Z0.2"), 0)
	assert.Nil(t, r.Bed)
	assert.Nil(t, r.Hotend)
	assert.Empty(t, r.Source)
}

func TestExtractTemperatures_ScanLimit(t *testing.T) {
	lines := make([]string, 0, 600)
	for i := 0; i < 500; i++ {
		lines = append(lines, "G1 X1")
	}
	lines = append(lines, "M140 S60", "M104 S200")

	r := ExtractTemperatures(NewDocument(lines), 0)
	assert.Nil(t, r.Bed)
	assert.Nil(t, r.Hotend)

	r = ExtractTemperatures(NewDocument(lines), 600)
	assert.NotNil(t, r.Bed)
	assert.NotNil(t, r.Hotend)
}

func TestResolveTemperatures_Overrides(t *testing.T) {
	d := doc("M140 S60", "M104 S200")

	r := ResolveTemperatures(d, 0, f(70), nil)
	assert.Equal(t, 70.0, *r.Bed)
	assert.Equal(t, 200.0, *r.Hotend)
	assert.Equal(t, "mixed", r.Source)

	r = ResolveTemperatures(d, 0, f(70), f(220))
	assert.Equal(t, 70.0, *r.Bed)
	assert.Equal(t, 220.0, *r.Hotend)
	assert.Equal(t, "override", r.Source)

	r = ResolveTemperatures(doc("G28"), 0, nil, f(220))
	assert.Nil(t, r.Bed)
	assert.Equal(t, "override", r.Source)
}

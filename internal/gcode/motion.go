package gcode

import (
	"github.com/print-resume/backend/internal/models"
)

// ScanMotion returns every G0/G1 move that sets Z, in line order. Travel moves
// are included. Lines whose Z value does not parse are skipped.
func ScanMotion(doc *Document) []models.MotionZValue {
	values := make([]models.MotionZValue, 0, 1024)
	for i := 0; i < doc.Len(); i++ {
		if z, ok := MotionZ(doc.Line(i)); ok {
			values = append(values, models.MotionZValue{LineIndex: i, Z: z})
		}
	}
	return values
}

// MotionZ extracts the Z target of a linear move.
func MotionZ(line string) (float64, bool) {
	cmd := ParseCommand(line)
	if cmd == nil || !cmd.Is("G0", "G1") {
		return 0, false
	}
	return cmd.FloatArg("Z")
}

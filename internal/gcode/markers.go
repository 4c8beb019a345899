package gcode

import (
	"github.com/print-resume/backend/internal/models"
)

// markerLookback is how far a height comment may be moved back onto the
// layer-change comment that opens its block.
const markerLookback = 5

// ScanMarkers extracts layer markers with the global dialect registry.
func ScanMarkers(doc *Document) []models.LayerMarker {
	return GetGlobalRegistry().ScanMarkers(doc)
}

// ScanMarkers returns the layer markers of doc ordered by line index.
//
// A height comment preceded, within the same comment block, by a layer-change
// comment is reported at the layer-change line so that resuming starts at the
// top of the block. The absorbed layer-change line yields no marker of its own.
func (r *DialectRegistry) ScanMarkers(doc *Document) []models.LayerMarker {
	markers := make([]models.LayerMarker, 0, 256)
	lastHeightLine := -1

	for i := 0; i < doc.Len(); i++ {
		line := doc.Line(i)
		m, ok := r.Match(line)
		if !ok {
			continue
		}

		if m.Kind == KindLayerChange {
			markers = append(markers, models.LayerMarker{LineIndex: i, Dialect: m.Dialect})
			continue
		}

		idx := i
		floor := i - markerLookback
		if floor <= lastHeightLine {
			floor = lastHeightLine + 1
		}
		for j := i - 1; j >= floor && j >= 0; j-- {
			prev := doc.Line(j)
			if !IsCommentLine(prev) {
				break
			}
			if r.IsLayerChange(prev) {
				idx = j
			}
		}

		// Drop height-less markers the backdated marker now covers.
		for len(markers) > 0 {
			last := markers[len(markers)-1]
			if last.HasHeight() || last.LineIndex < idx {
				break
			}
			markers = markers[:len(markers)-1]
		}

		height := m.Height
		markers = append(markers, models.LayerMarker{LineIndex: idx, Height: &height, Dialect: m.Dialect})
		lastHeightLine = i
	}

	return markers
}

// HeightMarkers filters markers that carry an explicit height.
func HeightMarkers(markers []models.LayerMarker) []models.LayerMarker {
	out := make([]models.LayerMarker, 0, len(markers))
	for _, m := range markers {
		if m.HasHeight() {
			out = append(out, m)
		}
	}
	return out
}

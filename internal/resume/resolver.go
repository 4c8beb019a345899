package resume

import (
	"sort"

	"github.com/print-resume/backend/internal/gcode"
	"github.com/print-resume/backend/internal/models"
)

// motionLookback is how many lines before the first qualifying move are
// searched for a comment to resume on.
const motionLookback = 10

// Resolver selects the line to resume from.
type Resolver struct {
	registry *gcode.DialectRegistry
}

// NewResolver creates a resolver using registry for marker detection. A nil
// registry selects the global one.
func NewResolver(registry *gcode.DialectRegistry) *Resolver {
	if registry == nil {
		registry = gcode.GetGlobalRegistry()
	}
	return &Resolver{registry: registry}
}

// Resolve scans doc and selects a resume point for targetHeight.
func (r *Resolver) Resolve(doc *gcode.Document, targetHeight, layerHeight float64) models.ResumePoint {
	markers := r.registry.ScanMarkers(doc)
	motion := gcode.ScanMotion(doc)
	return ResolveScanned(doc, markers, motion, targetHeight-layerHeight)
}

// ResolveScanned applies the resolution rules to already scanned data.
//
// Height-bearing markers are preferred. Without them, height-less markers are
// paired with the next Z move. Without any markers, Z moves alone are used.
// With no data at all the whole file is resumed from line 0.
func ResolveScanned(doc *gcode.Document, markers []models.LayerMarker, motion []models.MotionZValue, threshold float64) models.ResumePoint {
	if heights := gcode.HeightMarkers(markers); len(heights) > 0 {
		return selectMarker(heights, threshold, models.StrategyMarker)
	}
	if len(markers) > 0 {
		return selectMarker(pairWithMotion(markers, motion), threshold, models.StrategyLegacy)
	}
	if len(motion) > 0 {
		return resolveByMotion(doc, motion, threshold)
	}
	return models.ResumePoint{LineIndex: 0, Strategy: models.StrategyNone}
}

// selectMarker returns the first marker at or above threshold in document
// order, or the last marker when none qualifies. Markers without height never
// qualify.
func selectMarker(markers []models.LayerMarker, threshold float64, strategy models.ResolveStrategy) models.ResumePoint {
	for _, m := range markers {
		if m.Height != nil && *m.Height >= threshold {
			return models.ResumePoint{LineIndex: m.LineIndex, Strategy: strategy, Height: m.Height}
		}
	}
	last := markers[len(markers)-1]
	return models.ResumePoint{LineIndex: last.LineIndex, Strategy: strategy, Height: last.Height, Exceeded: true}
}

// pairWithMotion gives each height-less marker the Z of the first move
// strictly after it. The marker keeps its own line index.
func pairWithMotion(markers []models.LayerMarker, motion []models.MotionZValue) []models.LayerMarker {
	paired := make([]models.LayerMarker, len(markers))
	for i, m := range markers {
		paired[i] = m
		j := sort.Search(len(motion), func(k int) bool {
			return motion[k].LineIndex > m.LineIndex
		})
		if j < len(motion) {
			z := motion[j].Z
			paired[i].Height = &z
		}
	}
	return paired
}

// resolveByMotion finds the first move at or above threshold and backs up to
// the nearest comment-only line within motionLookback lines, falling back to
// the previous move.
func resolveByMotion(doc *gcode.Document, motion []models.MotionZValue, threshold float64) models.ResumePoint {
	for i, mv := range motion {
		if mv.Z < threshold {
			continue
		}
		z := mv.Z
		for j := mv.LineIndex - 1; j >= 0 && j >= mv.LineIndex-motionLookback; j-- {
			if gcode.IsCommentLine(doc.Line(j)) {
				return models.ResumePoint{LineIndex: j, Strategy: models.StrategyMotion, Height: &z}
			}
		}
		prev := i - 1
		if prev < 0 {
			prev = 0
		}
		return models.ResumePoint{LineIndex: motion[prev].LineIndex, Strategy: models.StrategyMotion, Height: &z}
	}
	return models.ResumePoint{LineIndex: 0, Strategy: models.StrategyNone, Exceeded: true}
}

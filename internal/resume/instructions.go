package resume

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
)

// Instructions returns the operator's next steps for a resumed file as Markdown.
func Instructions(res *Result, cfg HeaderParams, outputName string) string {
	var b strings.Builder

	b.WriteString("# Next steps\n\n")
	fmt.Fprintf(&b, "Resume file: `%s`  \n", outputName)
	fmt.Fprintf(&b, "Resume height: %.2fmm, layer height: %.2fmm  \n", cfg.ResumeHeight, cfg.LayerHeight)
	fmt.Fprintf(&b, "Resuming from line %d (%s)\n\n", res.Point.LineIndex, res.Point.Strategy)

	bed, hotend := "set manually", "set manually"
	if res.Temperatures.Bed != nil {
		bed = formatTemp(*res.Temperatures.Bed) + "°C"
	}
	if res.Temperatures.Hotend != nil {
		hotend = formatTemp(*res.Temperatures.Hotend) + "°C"
	}

	fmt.Fprintf(&b, "1. Heat bed to print temperature (%s)\n", bed)
	fmt.Fprintf(&b, "2. Heat nozzle to print temperature (%s)\n", hotend)
	b.WriteString("3. Home XY: `G28 X Y`\n")
	b.WriteString("4. Home Z at a safe position clear of the print: `G28 Z` (or `SAFE_Z_HOME`)\n")
	b.WriteString("5. Manually move the nozzle to the resume height\n")
	fmt.Fprintf(&b, "6. Start print: `%s`\n", outputName)

	if len(res.Warnings) > 0 {
		b.WriteString("\n## Warnings\n\n")
		for _, w := range res.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}

	b.WriteString("\n**Monitor the first few layers carefully.**\n")
	return b.String()
}

// InstructionsHTML renders Instructions to HTML.
func InstructionsHTML(res *Result, cfg HeaderParams, outputName string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.New().Convert([]byte(Instructions(res, cfg, outputName)), &buf); err != nil {
		return "", fmt.Errorf("rendering instructions: %w", err)
	}
	return buf.String(), nil
}

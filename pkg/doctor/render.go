package doctor

import (
	"fmt"
	"io"
	"strings"
)

func Render(output io.Writer, check Check) {
	renderIndented(output, check, 0)
}

func renderIndented(output io.Writer, check Check, depth int) {
	details := ""
	if check.Details != "" {
		details = " (" + check.Details + ")"
	}

	fmt.Fprintf(
		output,
		"%s%s %s%s\n",
		strings.Repeat("  ", depth),
		statusIcon(check.Status),
		check.Title,
		details)

	for _, child := range check.Children {
		renderIndented(output, child, depth+1)
	}
}

func statusIcon(status Status) string {
	switch status {
	case StatusPass:
		return "✓"
	case StatusWarn:
		return "⚠"
	case StatusFail:
		return "✗"
	default:
		return "?"
	}
}

package logger

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// bar renders position out of total as "[===   ] n/total (p%)". Values
// outside [0, total] are clamped for the fill and the percentage.
type bar struct {
	current int
	total   int
	width   int
	color   bool
}

func newBar(current, total, width int, enableColor bool) bar {
	if width < 1 {
		width = 10
	}
	return bar{current: current, total: total, width: width, color: enableColor}
}

func (b bar) percent() int {
	if b.total <= 0 {
		return 0
	}
	p := b.current * 100 / b.total
	switch {
	case p > 100:
		return 100
	case p < 0:
		return 0
	}
	return p
}

func (b bar) String() string {
	p := b.percent()
	filled := p * b.width / 100
	s := fmt.Sprintf("[%s%s] %d/%d (%d%%)",
		strings.Repeat("=", filled), strings.Repeat(" ", b.width-filled), b.current, b.total, p)
	if !b.color {
		return s
	}
	if p < 100 {
		return color.New(color.FgCyan).Sprint(s)
	}
	return color.New(color.FgGreen).Sprint(s)
}

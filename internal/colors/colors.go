// Package colors provides centralized color output with TTY-aware defaults.
//
// Colors are automatically disabled when stdout is not a terminal (piped or
// redirected to a file). Use Init() to override based on CLI flags.
package colors

import "github.com/fatih/color"

// Init allows overriding the auto-detected color setting.
//   - forceColor == nil: keep auto-detected value
//   - forceColor == true: force colors on (--color flag)
//   - forceColor == false: force colors off (--no-color flag)
func Init(forceColor *bool) {
	if forceColor != nil {
		color.NoColor = !*forceColor
	}
}

// Enabled returns true if colors are currently enabled.
func Enabled() bool {
	return !color.NoColor
}

func Bold() *color.Color  { return color.New(color.Bold) }
func Faint() *color.Color { return color.New(color.Faint) }

func Green() *color.Color  { return color.New(color.FgGreen) }
func Red() *color.Color    { return color.New(color.FgRed) }
func Yellow() *color.Color { return color.New(color.FgYellow) }

func BoldCyan() *color.Color    { return color.New(color.Bold, color.FgCyan) }
func BoldMagenta() *color.Color { return color.New(color.Bold, color.FgMagenta) }
func BoldHiBlue() *color.Color  { return color.New(color.Bold, color.FgHiBlue) }
func FaintRed() *color.Color    { return color.New(color.Faint, color.FgRed) }

func ItalicFaintWhite() *color.Color { return color.New(color.Italic, color.Faint, color.FgWhite) }

// Hits colors a counter value: covered points are green, missed points faint red.
func Hits(n int32) *color.Color {
	if n > 0 {
		return Green()
	}
	return FaintRed()
}

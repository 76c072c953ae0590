package colors

import (
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestInit(t *testing.T) {
	orig := color.NoColor
	defer func() { color.NoColor = orig }()

	on, off := true, false
	tests := []struct {
		name  string
		start bool
		force *bool
		want  bool
	}{
		{"ForceOn", true, &on, true},
		{"ForceOff", false, &off, false},
		{"NilKeepsEnabled", false, nil, true},
		{"NilKeepsDisabled", true, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			color.NoColor = tt.start
			Init(tt.force)
			if Enabled() != tt.want {
				t.Errorf("Enabled() = %v, want %v", Enabled(), tt.want)
			}
		})
	}
}

func TestOutput(t *testing.T) {
	orig := color.NoColor
	defer func() { color.NoColor = orig }()

	color.NoColor = false
	if got := Bold().Sprint("test"); !strings.Contains(got, "\x1b[") {
		t.Errorf("expected ANSI codes when colors enabled, got: %q", got)
	}
	color.NoColor = true
	if got := Bold().Sprint("test"); got != "test" {
		t.Errorf("expected plain 'test', got: %q", got)
	}
}

func TestHits(t *testing.T) {
	orig := color.NoColor
	defer func() { color.NoColor = orig }()

	color.NoColor = false
	if Hits(3).Sprint("x") == Hits(0).Sprint("x") {
		t.Error("covered and missed points should render differently")
	}
}

package detect

import (
	"context"
	"regexp"
	"strings"
)

// DefaultWindowBytes bounds how much trailing output a detection pass inspects.
const DefaultWindowBytes = 1500

// PatternConfig holds configurable inputs for pattern-based detection.
// Zero values are replaced with defaults.
type PatternConfig struct {
	// CursorGlyphs are runes that, as the last visible character of output,
	// indicate an idle input prompt. Default: "❯", ">", "›", "$".
	CursorGlyphs []string
	// WindowBytes bounds the trailing output window. Default: 1500.
	WindowBytes int
}

// PatternDetector matches trailing output against cursor glyphs and prompt
// phrasing. It is deterministic, always available, and has bounded cost.
type PatternDetector struct {
	glyphs []string
	window int
}

var (
	confirmRe  = regexp.MustCompile(`(?i)\[y/n\]|\(y/n\)|\[yes/no\]|continue\?`)
	menuRe     = regexp.MustCompile(`(?i)choose (an )?option|select an option|enter (a )?number`)
	questionRe = regexp.MustCompile(`(?i)what would you like|how should i proceed|should i |next step|shall i |would you like me`)
)

// NewPatternDetector creates a PatternDetector from cfg.
func NewPatternDetector(cfg PatternConfig) *PatternDetector {
	if len(cfg.CursorGlyphs) == 0 {
		cfg.CursorGlyphs = []string{"❯", ">", "›", "$"}
	}
	if cfg.WindowBytes <= 0 {
		cfg.WindowBytes = DefaultWindowBytes
	}
	return &PatternDetector{glyphs: cfg.CursorGlyphs, window: cfg.WindowBytes}
}

// Detect implements Detector.
func (d *PatternDetector) Detect(_ context.Context, tail string) Verdict {
	if len(tail) > d.window {
		tail = tail[len(tail)-d.window:]
	}
	if strings.TrimSpace(tail) == "" {
		return Verdict{}
	}

	// Prompt phrasing is checked before cursor glyphs so a confirmation
	// followed by a cursor is answered as a confirmation.
	if confirmRe.MatchString(tail) {
		return Verdict{Waiting: true, Kind: KindConfirm, Response: "y"}
	}
	if menuRe.MatchString(tail) {
		return Verdict{Waiting: true, Kind: KindMenu, Response: "1"}
	}

	last := lastVisibleLine(tail)
	if questionRe.MatchString(last) || strings.HasSuffix(strings.TrimSpace(last), "?") {
		return Verdict{Waiting: true, Kind: KindQuestion, Response: "continue"}
	}

	trimmed := strings.TrimRight(tail, " \t\r\n")
	for _, g := range d.glyphs {
		if strings.HasSuffix(trimmed, g) {
			return Verdict{Waiting: true, Kind: KindIdlePrompt, Response: "continue"}
		}
	}

	return Verdict{}
}

// lastVisibleLine returns the last non-empty line of s.
func lastVisibleLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

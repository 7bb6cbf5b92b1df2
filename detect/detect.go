// Package detect classifies recent subprocess output to decide whether the
// agent under test is blocked waiting for user input.
package detect

import "context"

// Kind identifies what sort of input the subprocess appears to be waiting for.
type Kind int

const (
	// KindNone means no waiting state was detected.
	KindNone Kind = iota
	// KindConfirm is a yes/no confirmation prompt.
	KindConfirm
	// KindMenu is a numbered option selection prompt.
	KindMenu
	// KindQuestion is an open-ended question back to the user.
	KindQuestion
	// KindIdlePrompt is a bare input cursor with no pending work.
	KindIdlePrompt
)

func (k Kind) String() string {
	switch k {
	case KindConfirm:
		return "confirm"
	case KindMenu:
		return "menu"
	case KindQuestion:
		return "question"
	case KindIdlePrompt:
		return "idle_prompt"
	default:
		return "none"
	}
}

// Verdict is the result of one detection pass. A zero Verdict means
// "not waiting" (or no verdict, for strategies that can fail).
type Verdict struct {
	Waiting  bool
	Kind     Kind
	Response string // suggested input, without trailing newline
}

// Detector decides from a trailing window of output whether the subprocess
// is waiting for input. Implementations must be safe for concurrent use and
// must return promptly; strategies that call out externally bound their own
// latency and return a zero Verdict on any failure.
type Detector interface {
	Detect(ctx context.Context, tail string) Verdict
}

// Chain dispatches to detectors in fixed priority order; the first positive
// verdict wins. A detector returning a zero Verdict defers to the next one.
type Chain struct {
	detectors []Detector
}

// NewChain builds a chain from the given detectors in priority order.
func NewChain(ds ...Detector) *Chain {
	return &Chain{detectors: ds}
}

// Detect implements Detector.
func (c *Chain) Detect(ctx context.Context, tail string) Verdict {
	for _, d := range c.detectors {
		if v := d.Detect(ctx, tail); v.Waiting {
			return v
		}
	}
	return Verdict{}
}

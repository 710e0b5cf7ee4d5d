package capture

import (
	"fmt"
	"math"

	"github.com/hpungsan/evlens/internal/document"
	"github.com/hpungsan/evlens/internal/dom"
	"github.com/hpungsan/evlens/internal/errors"
)

// Handle names a boundary of the active highlight.
type Handle string

const (
	HandleStart Handle = "start"
	HandleEnd   Handle = "end"
)

// ParseHandle validates a handle name.
func ParseHandle(s string) (Handle, error) {
	switch Handle(s) {
	case HandleStart, HandleEnd:
		return Handle(s), nil
	}
	return "", errors.NewInvalidRequest(fmt.Sprintf("unknown handle %q (want start or end)", s))
}

// Drag is one in-flight boundary drag. Moves only change the preview; nothing
// is committed until Release.
type Drag struct {
	handle    Handle
	span      document.EvidenceSpan
	source    string
	start     int
	end       int
	charWidth float64
	delta     int
	active    bool
}

// BeginDrag starts dragging handle of span. source is the text the span was
// located in and [start, end) its located range there; charWidth converts
// pixels to characters.
func BeginDrag(handle Handle, span document.EvidenceSpan, source string, start, end int, charWidth float64) (*Drag, error) {
	if charWidth <= 0 {
		return nil, errors.NewInvalidRequest("char width must be positive")
	}
	if start < 0 || start >= end || end > dom.RuneLen(source) {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("span range %d..%d does not fit its text", start, end))
	}
	return &Drag{
		handle:    handle,
		span:      span,
		source:    source,
		start:     start,
		end:       end,
		charWidth: charWidth,
		active:    true,
	}, nil
}

// Active reports whether the drag is still in flight.
func (d *Drag) Active() bool {
	return d != nil && d.active
}

// Handle returns the dragged boundary.
func (d *Drag) Handle() Handle {
	return d.handle
}

// Move sets the total pointer displacement since the drag began and returns
// the preview text. Positive dx moves the boundary right.
func (d *Drag) Move(dxPixels float64) string {
	if !d.Active() {
		return d.preview()
	}
	delta := int(math.Round(dxPixels / d.charWidth))
	switch d.handle {
	case HandleStart:
		// keep at least one character
		d.delta = clamp(delta, -d.start, d.end-d.start-1)
	case HandleEnd:
		d.delta = clamp(delta, -(d.end - d.start - 1), dom.RuneLen(d.source)-d.end)
	}
	return d.preview()
}

// Delta is the current boundary shift in characters.
func (d *Drag) Delta() int {
	return d.delta
}

func (d *Drag) bounds() (int, int) {
	if d.handle == HandleStart {
		return d.start + d.delta, d.end
	}
	return d.start, d.end + d.delta
}

// Preview returns the text the span would cover if released now.
func (d *Drag) Preview() string {
	return d.preview()
}

func (d *Drag) preview() string {
	s, e := d.bounds()
	return dom.Substr(d.source, s, e)
}

// Release ends the drag. It returns the adjusted candidate, or false when the
// boundary did not move. A start shift moves the span's start offset and
// trims or extends its text on the left; an end shift does so on the right.
func (d *Drag) Release() (Candidate, bool) {
	if !d.Active() {
		return Candidate{}, false
	}
	d.active = false
	if d.delta == 0 {
		return Candidate{}, false
	}
	s, e := d.bounds()
	c := Candidate{
		Text:        dom.Substr(d.source, s, e),
		StartOffset: s,
		EndOffset:   e,
	}
	if d.span.IsStructural() {
		c.XPath = d.span.XPath
	} else {
		c.Flat = true
	}
	return c, true
}

// Cancel abandons the drag without producing a candidate.
func (d *Drag) Cancel() {
	if d != nil {
		d.active = false
		d.delta = 0
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package locate

import (
	"github.com/hpungsan/evlens/internal/document"
	"github.com/hpungsan/evlens/internal/xpath"
)

// Report is the printable form of a Result.
type Report struct {
	Span      document.EvidenceSpan `json:"span"`
	Found     bool                  `json:"found"`
	Strategy  Strategy              `json:"strategy"`
	Partial   bool                  `json:"partial,omitempty"`
	Start     int                   `json:"start"`
	End       int                   `json:"end"`
	Text      string                `json:"text,omitempty"`
	Matches   int                   `json:"matches,omitempty"`
	Variant   string                `json:"variant,omitempty"`
	Expr      string                `json:"expr,omitempty"`
	Scope     xpath.Scope           `json:"scope,omitempty"`
	Malformed bool                  `json:"malformed,omitempty"`
	// Target is the canonical path and ordinal of the element the span landed in.
	TargetPath    string `json:"target_path,omitempty"`
	TargetOrdinal *int   `json:"target_ordinal,omitempty"`
}

// Report locates span and summarizes the outcome.
func (l *Locator) Report(span document.EvidenceSpan) Report {
	res := l.LocateSpan(span)
	r := Report{
		Span:      span,
		Found:     res.Found,
		Strategy:  res.Location.Strategy,
		Partial:   res.Location.Partial,
		Matches:   len(res.Resolution.Nodes),
		Variant:   res.Resolution.Matched.Kind,
		Expr:      res.Resolution.Matched.Expr,
		Scope:     res.Resolution.Matched.Scope,
		Malformed: res.Resolution.Malformed,
	}
	if res.Found {
		r.Start, r.End = res.Location.Start, res.Location.End
		r.Text = res.Location.Text()
	}
	if res.Target != nil {
		r.TargetPath = xpath.BuildPath(res.Target, l.snap.Root)
		if ord, ok := l.snap.Ordinal(res.Target); ok {
			r.TargetOrdinal = &ord
		}
	}
	return r
}

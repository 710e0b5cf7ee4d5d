package overlay

import (
	"fmt"
	"strings"

	"github.com/hpungsan/evlens/internal/document"
)

// Style is the presentation of one evidence category. It depends only on the
// span type, so identical input always renders identically.
type Style struct {
	Class      string
	Label      string
	Background string
	Border     string
}

var styles = map[document.SpanType]Style{
	document.SpanIntent:         {Class: "evlens-intent", Label: "Intent", Background: "#dbeafe", Border: "#2563eb"},
	document.SpanAction:         {Class: "evlens-action", Label: "Action", Background: "#dcfce7", Border: "#16a34a"},
	document.SpanArtefactType:   {Class: "evlens-artefact-type", Label: "Artefact Type", Background: "#fef3c7", Border: "#d97706"},
	document.SpanArtefactDetail: {Class: "evlens-artefact-detail", Label: "Artefact Detail", Background: "#fce7f3", Border: "#db2777"},
}

var neutral = Style{Class: "evlens-unknown", Label: "Evidence", Background: "#e5e7eb", Border: "#6b7280"}

// StyleFor returns the style of a span type; unknown types get a neutral style.
func StyleFor(t document.SpanType) Style {
	if s, ok := styles[t]; ok {
		return s
	}
	return neutral
}

// Tooltip is "<TypeLabel>", or "Artefact Detail: <field>" for detail spans with a field.
func Tooltip(span document.EvidenceSpan) string {
	if span.Type == document.SpanArtefactDetail && span.Field != "" {
		return "Artefact Detail: " + span.Field
	}
	return StyleFor(span.Type).Label
}

// Stylesheet returns the CSS rules for every evidence category, in a fixed order.
func Stylesheet() string {
	var b strings.Builder
	for _, t := range document.SpanTypes {
		writeRule(&b, StyleFor(t))
	}
	writeRule(&b, neutral)
	return b.String()
}

func writeRule(b *strings.Builder, s Style) {
	fmt.Fprintf(b, "mark.%[1]s { background: %[2]s; border-bottom: 2px solid %[3]s; }\n", s.Class, s.Background, s.Border)
	fmt.Fprintf(b, ".evlens-overlay.%[1]s { background: %[2]s; outline: 2px solid %[3]s; }\n", s.Class, s.Background, s.Border)
}

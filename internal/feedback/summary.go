package feedback

import (
	"fmt"
	"strings"

	"github.com/hpungsan/evlens/internal/document"
)

// Summary renders correction records as Markdown: one section per corrected
// prediction with its labels and a table of its evidence. originals, when
// given, lets the summary mark which labels changed; it may be nil.
func Summary(records map[string]document.CorrectionRecord, originals func(id string) (document.Prediction, bool)) string {
	var b strings.Builder
	b.WriteString("# Feedback summary\n\n")
	if len(records) == 0 {
		b.WriteString("No corrections yet.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "%d corrected %s.\n", len(records), plural(len(records), "prediction", "predictions"))

	for _, id := range sortedIDs(records) {
		cv := records[id].CorrectedValue
		var orig *document.Prediction
		if originals != nil {
			if p, ok := originals(id); ok {
				orig = &p
			}
		}

		fmt.Fprintf(&b, "\n## %s\n\n", mdEscape(id))
		writeLabel(&b, "Intent", cv.Intent, orig, func(p *document.Prediction) string { return p.Intent })
		writeLabel(&b, "Action", cv.Action, orig, func(p *document.Prediction) string { return p.Action })
		writeLabel(&b, "Artefact type", cv.Artefact.Type, orig, func(p *document.Prediction) string { return p.Artefact.Type })

		if len(cv.EvidenceSpans) == 0 {
			continue
		}
		b.WriteString("\n| Type | Text | Location | Change |\n|---|---|---|---|\n")
		for _, s := range cv.EvidenceSpans {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", spanType(s.EvidenceSpan), cell(s.Text), location(s.EvidenceSpan), change(s))
		}
	}
	return b.String()
}

func writeLabel(b *strings.Builder, name, value string, orig *document.Prediction, get func(*document.Prediction) string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "- **%s:** %s", name, mdEscape(value))
	if orig != nil && get(orig) != value {
		fmt.Fprintf(b, " (was %s)", mdEscape(get(orig)))
	}
	b.WriteString("\n")
}

func spanType(s document.EvidenceSpan) string {
	if s.Field != "" {
		return fmt.Sprintf("%s (%s)", mdEscape(string(s.Type)), cell(s.Field))
	}
	return mdEscape(string(s.Type))
}

func location(s document.EvidenceSpan) string {
	start, end := s.Offsets()
	if s.IsStructural() {
		return fmt.Sprintf("`%s` %d..%d", strings.ReplaceAll(s.XPath, "`", ""), start, end)
	}
	return fmt.Sprintf("%d..%d", start, end)
}

func change(s document.CorrectedSpan) string {
	id, ok := s.OriginalIdentity()
	switch {
	case ok && id.XPath != "":
		return fmt.Sprintf("replaces `%s` %d..%d", strings.ReplaceAll(id.XPath, "`", ""), id.Start, id.End)
	case ok:
		return fmt.Sprintf("replaces %d..%d", id.Start, id.End)
	case s.CorrectionID != "":
		return "added"
	}
	return "unchanged"
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "|", `\|`)
	return mdEscape(s)
}

var mdReplacer = strings.NewReplacer(`*`, `\*`, `_`, `\_`, "`", "\\`", `[`, `\[`, `]`, `\]`, `<`, `&lt;`, `>`, `&gt;`)

func mdEscape(s string) string {
	return mdReplacer.Replace(s)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

package overlay

import (
	"cmp"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hpungsan/evlens/internal/dom"
)

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Tr: true, atom.Li: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Table: true, atom.Blockquote: true, atom.Pre: true, atom.Hr: true,
}

func termStyle(in Instruction) lipgloss.Style {
	st := lipgloss.NewStyle().
		Background(lipgloss.Color(in.Style.Background)).
		Foreground(lipgloss.Color("#111827"))
	if in.Active {
		st = st.Underline(true).Bold(true)
	}
	return st
}

// Terminal renders the body as text with highlighted ranges styled for a
// terminal. Block elements start new lines; overlay instructions style the
// whole text of their element.
func Terminal(snap *dom.Snapshot, plan Plan) string {
	inline := make(map[*html.Node][]Instruction)
	overlay := make(map[*html.Node]Instruction)
	for _, in := range plan.Instructions {
		switch in.Kind {
		case KindInline:
			inline[in.TextNode] = append(inline[in.TextNode], in)
		case KindOverlay:
			overlay[in.Target] = in
		}
	}

	var b strings.Builder
	var walk func(n *html.Node, cover *Instruction)
	walk = func(n *html.Node, cover *Instruction) {
		if in, ok := overlay[n]; ok && cover == nil {
			cover = &in
		}
		switch n.Type {
		case html.TextNode:
			writeText(&b, n, inline[n], cover)
			return
		case html.ElementNode:
			if blockElements[n.DataAtom] && b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
				b.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, cover)
		}
	}
	walk(snap.Root, nil)
	return b.String()
}

func writeText(b *strings.Builder, n *html.Node, ins []Instruction, cover *Instruction) {
	if cover != nil {
		b.WriteString(termStyle(*cover).Render(n.Data))
		return
	}
	if len(ins) == 0 {
		b.WriteString(n.Data)
		return
	}
	runes := []rune(n.Data)
	pos := 0
	for _, in := range sortedByStart(ins) {
		if in.Start < pos || in.End > len(runes) {
			continue
		}
		b.WriteString(string(runes[pos:in.Start]))
		b.WriteString(termStyle(in).Render(string(runes[in.Start:in.End])))
		pos = in.End
	}
	b.WriteString(string(runes[pos:]))
}

func sortedByStart(ins []Instruction) []Instruction {
	out := slices.Clone(ins)
	slices.SortFunc(out, func(a, b Instruction) int { return cmp.Compare(a.Start, b.Start) })
	return out
}

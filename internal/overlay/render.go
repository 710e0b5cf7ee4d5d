package overlay

import (
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hpungsan/evlens/internal/dom"
	"github.com/hpungsan/evlens/internal/logging"
)

// Attributes written on highlight elements.
const (
	AttrSpan      = "data-evlens-span"
	AttrType      = "data-evlens-type"
	AttrField     = "data-evlens-field"
	AttrClickable = "data-evlens-clickable"
	AttrHandle    = "data-evlens-handle"
)

// Renderer draws a plan onto a snapshot.
type Renderer struct {
	logger *log.Logger
}

// NewRenderer creates a Renderer. A nil logger discards output.
func NewRenderer(logger *log.Logger) *Renderer {
	return &Renderer{logger: logging.OrDiscard(logger)}
}

// Render applies plan to a fresh clone of snap and returns the inner HTML of
// the rendering root. snap itself is never modified, so rendering the same
// plan twice yields identical output. Every element carries its ordinal so
// the browser can report selections against the unhighlighted tree.
func (r *Renderer) Render(snap *dom.Snapshot, plan Plan) (string, error) {
	c, mapping := snap.CloneWithMap()
	for i := 0; i < c.Len(); i++ {
		el := c.Element(i)
		el.Attr = append(el.Attr, html.Attribute{Key: dom.NodeAttr, Val: strconv.Itoa(i)})
	}

	byNode := make(map[*html.Node][]Instruction)
	var overlays []Instruction
	for _, in := range plan.Instructions {
		switch in.Kind {
		case KindInline:
			tn := mapping[in.TextNode]
			if tn == nil {
				r.logger.Warn("highlight text node not in snapshot", "span", in.SpanID)
				continue
			}
			byNode[tn] = append(byNode[tn], in)
		case KindOverlay:
			overlays = append(overlays, in)
		}
	}

	for tn, ins := range byNode {
		// Right to left, so earlier ranges stay valid after each split.
		sort.Slice(ins, func(i, j int) bool { return ins[i].Start > ins[j].Start })
		for _, in := range ins {
			if !splitAndWrap(tn, in) {
				r.logger.Debug("highlight range no longer fits text", "span", in.SpanID, "start", in.Start, "end", in.End)
			}
		}
	}

	for _, in := range overlays {
		target := mapping[in.Target]
		if target == nil || target.Parent == nil {
			r.logger.Warn("overlay target not in snapshot", "span", in.SpanID)
			continue
		}
		attachOverlay(target, in)
	}

	return dom.InnerHTML(c.Root)
}

// splitAndWrap replaces characters [Start, End) of tn with a highlight
// element. tn keeps the text before the match.
func splitAndWrap(tn *html.Node, in Instruction) bool {
	runes := []rune(tn.Data)
	if in.Start < 0 || in.Start >= in.End || in.End > len(runes) || tn.Parent == nil {
		return false
	}
	before, match, after := string(runes[:in.Start]), string(runes[in.Start:in.End]), string(runes[in.End:])

	mark := highlightElement(in)
	if in.Handles {
		mark.AppendChild(handleElement("start"))
	}
	mark.AppendChild(&html.Node{Type: html.TextNode, Data: match})
	if in.Handles {
		mark.AppendChild(handleElement("end"))
	}

	parent := tn.Parent
	next := tn.NextSibling
	tn.Data = before
	parent.InsertBefore(mark, next)
	if after != "" {
		parent.InsertBefore(&html.Node{Type: html.TextNode, Data: after}, next)
	}
	if before == "" {
		parent.RemoveChild(tn)
	}
	return true
}

func highlightElement(in Instruction) *html.Node {
	classes := []string{"evlens-hl", in.Style.Class}
	if in.Active {
		classes = append(classes, "evlens-active")
	}
	if in.Clickable {
		classes = append(classes, "evlens-clickable")
	}
	return &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Mark,
		Data:     "mark",
		Attr:     commonAttrs(in, classes),
	}
}

func handleElement(which string) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Span,
		Data:     "span",
		Attr: []html.Attribute{
			{Key: "class", Val: "evlens-handle evlens-handle-" + which},
			{Key: AttrHandle, Val: which},
			{Key: "aria-hidden", Val: "true"},
		},
	}
}

func commonAttrs(in Instruction, classes []string) []html.Attribute {
	attrs := []html.Attribute{
		{Key: "class", Val: strings.Join(classes, " ")},
		{Key: AttrSpan, Val: in.SpanID},
		{Key: AttrType, Val: string(in.Type)},
		{Key: "title", Val: in.Tooltip},
		{Key: AttrClickable, Val: strconv.FormatBool(in.Clickable)},
	}
	if in.Field != "" {
		attrs = append(attrs, html.Attribute{Key: AttrField, Val: in.Field})
	}
	return attrs
}

var voidElements = map[atom.Atom]bool{
	atom.Img: true, atom.Br: true, atom.Hr: true, atom.Input: true, atom.Wbr: true,
}

// attachOverlay lays a positioned layer over target. Void elements are
// wrapped in a host span since they cannot hold children.
func attachOverlay(target *html.Node, in Instruction) {
	classes := []string{"evlens-overlay", in.Style.Class}
	if in.Active {
		classes = append(classes, "evlens-active")
	}
	if in.Clickable {
		classes = append(classes, "evlens-clickable")
	}
	layer := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Div,
		Data:     "div",
		Attr:     commonAttrs(in, classes),
	}

	host := target
	if voidElements[target.DataAtom] {
		host = &html.Node{
			Type:     html.ElementNode,
			DataAtom: atom.Span,
			Data:     "span",
		}
		target.Parent.InsertBefore(host, target)
		target.Parent.RemoveChild(target)
		host.AppendChild(target)
	}
	addClass(host, "evlens-overlay-host")
	host.InsertBefore(layer, host.FirstChild)
}

func addClass(n *html.Node, class string) {
	for i, a := range n.Attr {
		if a.Key == "class" {
			n.Attr[i].Val = strings.TrimSpace(a.Val + " " + class)
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: "class", Val: class})
}

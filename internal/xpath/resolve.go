// Package xpath maps between nodes of a rendered email body and the path
// expressions upstream analysis captured against the original message.
//
// The rendered body sits one or more levels below where it sat when the
// path was captured, and HTML parsing inserts elements (tbody) the capture
// never saw, so resolution tries a fixed ladder of path variants.
package xpath

import (
	"regexp"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/charmbracelet/log"
	"golang.org/x/net/html"

	"github.com/hpungsan/evlens/internal/logging"
)

// Scope names the node a variant was evaluated against.
type Scope string

const (
	ScopeRoot     Scope = "root"
	ScopeDocument Scope = "document"
)

// Variant kinds in match priority order.
const (
	VariantExact        = "exact"
	VariantRootStripped = "root-stripped"
	VariantBodyStripped = "body-stripped"
	VariantDocumentWide = "document-wide"
)

var (
	reRootPrefix = regexp.MustCompile(`^/html(?:\[1\])?/`)
	reBodyPrefix = regexp.MustCompile(`^(?:/html(?:\[1\])?)?/body(?:\[1\])?/`)
	reTableRow   = regexp.MustCompile(`(table(?:\[\d+\])?)/(tr\b)`)
)

// Attempt is one candidate expression in the resolution ladder.
type Attempt struct {
	Kind  string
	Expr  string
	Scope Scope
}

// Resolution is the outcome of resolving one path.
type Resolution struct {
	Nodes []*html.Node
	// Matched is the attempt that produced Nodes; zero when nothing matched.
	Matched Attempt
	// Malformed is set when the expression failed to compile.
	Malformed bool
}

// Resolver evaluates captured paths against a rendered body.
type Resolver struct {
	logger *log.Logger
}

// NewResolver creates a Resolver. A nil logger discards output.
func NewResolver(logger *log.Logger) *Resolver {
	return &Resolver{logger: logging.OrDiscard(logger)}
}

// Resolve returns the nodes path denotes, in document order, or nil. root is
// the rendering root and doc the whole document. It never fails: unmatched
// and malformed paths both yield nil.
func (r *Resolver) Resolve(path string, root, doc *html.Node) []*html.Node {
	return r.ResolveDetailed(path, root, doc).Nodes
}

// ResolveDetailed is Resolve plus which attempt matched.
func (r *Resolver) ResolveDetailed(path string, root, doc *html.Node) Resolution {
	path = strings.TrimSpace(path)
	if path == "" {
		return Resolution{}
	}

	for _, at := range Attempts(path) {
		ctx := root
		if at.Scope == ScopeDocument {
			ctx = doc
		}
		if ctx == nil {
			continue
		}
		nodes, err := htmlquery.QueryAll(ctx, at.Expr)
		if err != nil {
			r.logger.Warn("malformed evidence path", "path", path, "expr", at.Expr, "err", err)
			return Resolution{Malformed: true}
		}
		if len(nodes) > 0 {
			if at.Kind != VariantExact || at.Scope != ScopeRoot {
				r.logger.Debug("evidence path resolved by fallback", "path", path, "variant", at.Kind, "scope", at.Scope, "expr", at.Expr)
			}
			return Resolution{Nodes: nodes, Matched: at}
		}
	}

	r.logger.Debug("evidence path matched nothing", "path", path)
	return Resolution{}
}

// Attempts lists the expressions tried for path, in order: exact,
// root-stripped and body-stripped against the rendering root, the same three
// against the whole document, then a document-wide descendant match. Each
// variant with a table/tr step is followed by its table/tbody/tr twin.
func Attempts(path string) []Attempt {
	type variant struct{ kind, expr string }

	var variants []variant
	variants = append(variants, variant{VariantExact, path})
	if reRootPrefix.MatchString(path) {
		variants = append(variants, variant{VariantRootStripped, reRootPrefix.ReplaceAllString(path, "")})
	}
	bodyStripped := ""
	if reBodyPrefix.MatchString(path) {
		bodyStripped = reBodyPrefix.ReplaceAllString(path, "")
		variants = append(variants, variant{VariantBodyStripped, bodyStripped})
	}

	var out []Attempt
	seen := make(map[Attempt]bool)
	add := func(kind, expr string, scope Scope) {
		if expr == "" {
			return
		}
		for _, e := range withTbody(expr) {
			at := Attempt{Kind: kind, Expr: e, Scope: scope}
			if !seen[at] {
				seen[at] = true
				out = append(out, at)
			}
		}
	}

	for _, scope := range []Scope{ScopeRoot, ScopeDocument} {
		for _, v := range variants {
			add(v.kind, v.expr, scope)
		}
	}

	wide := bodyStripped
	if wide == "" {
		wide = strings.TrimLeft(path, "/")
	}
	if wide != "" && !strings.HasPrefix(path, "//") {
		add(VariantDocumentWide, "//"+wide, ScopeDocument)
	}
	return out
}

func withTbody(expr string) []string {
	if !reTableRow.MatchString(expr) || strings.Contains(expr, "tbody") {
		return []string{expr}
	}
	return []string{expr, reTableRow.ReplaceAllString(expr, "$1/tbody/$2")}
}

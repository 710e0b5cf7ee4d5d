package dom

import (
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policyOnce sync.Once
	policy     *bluemonday.Policy
)

// emailPolicy is the UGC policy plus the table layout attributes email
// bodies lean on. Data attributes stay disallowed so an email can never
// forge the data-evlens-* markers the renderer adds.
func emailPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		p := bluemonday.UGCPolicy()
		p.AllowAttrs("align", "valign", "width", "height", "bgcolor").OnElements("table", "tr", "td", "th", "tbody", "thead", "tfoot")
		p.AllowAttrs("colspan", "rowspan").OnElements("td", "th")
		p.AllowAttrs("cellpadding", "cellspacing", "border").OnElements("table")
		p.AllowElements("center", "font", "span", "div", "section", "header", "footer")
		p.RequireNoFollowOnLinks(true)
		p.AddTargetBlankToFullyQualifiedLinks(true)
		policy = p
	})
	return policy
}

// Sanitize strips everything but known-safe tags and attributes from an
// untrusted HTML email body. It is applied to every HTML body before it is
// placed in a rendered page, read-only views included.
func Sanitize(content string) string {
	return emailPolicy().Sanitize(content)
}

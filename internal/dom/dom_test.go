package dom

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/hpungsan/evlens/internal/document"
)

func htmlSnapshot(t *testing.T, content string) *Snapshot {
	t.Helper()
	s, err := NewSnapshot(document.EmailDocument{Content: content, ContentType: document.ContentHTML})
	require.NoError(t, err)
	return s
}

func TestNewSnapshot_Plain(t *testing.T) {
	s, err := NewSnapshot(document.EmailDocument{Content: "a <b> & c", ContentType: document.ContentPlain})
	require.NoError(t, err)

	assert.Equal(t, "a <b> & c", s.Plain)
	assert.Equal(t, 0, s.Len())
	require.NotNil(t, s.Root.FirstChild)
	assert.Equal(t, html.TextNode, s.Root.FirstChild.Type)

	out, err := InnerHTML(s.Root)
	require.NoError(t, err)
	assert.Equal(t, "a &lt;b&gt; &amp; c", out)
}

func TestNewSnapshot_SanitizesScripts(t *testing.T) {
	s := htmlSnapshot(t, `<p onclick="steal()">Hello</p><script>alert(1)</script>`)
	out, err := InnerHTML(s.Root)
	require.NoError(t, err)

	assert.NotContains(t, out, "script")
	assert.NotContains(t, out, "onclick")
	assert.Contains(t, out, "Hello")
}

func TestSnapshot_OrdinalsArePreOrder(t *testing.T) {
	s := htmlSnapshot(t, `<p>Hello <b>world</b></p><div><span>x</span></div>`)

	require.Equal(t, 4, s.Len())
	tags := make([]string, s.Len())
	for i := range tags {
		tags[i] = s.Element(i).Data
	}
	assert.Equal(t, []string{"p", "b", "div", "span"}, tags)

	assert.Same(t, s.Root, s.Element(-1))
	assert.Nil(t, s.Element(4))
	assert.Nil(t, s.Element(-2))

	i, ok := s.Ordinal(s.Element(2))
	assert.True(t, ok)
	assert.Equal(t, 2, i)
	_, ok = s.Ordinal(s.Doc)
	assert.False(t, ok)
}

func TestSnapshot_CloneIsIndependent(t *testing.T) {
	s := htmlSnapshot(t, `<p>Hello <b>world</b></p>`)
	before, _ := InnerHTML(s.Root)

	c, mapping := s.CloneWithMap()
	assert.Equal(t, s.Len(), c.Len())
	assert.Same(t, mapping[s.Element(1)], c.Element(1))

	FirstText(c.Root).Data = "changed "
	after, _ := InnerHTML(s.Root)
	assert.Equal(t, before, after)
}

func TestTextHelpers(t *testing.T) {
	s := htmlSnapshot(t, "<div>\n  <p>Hello <b>world</b> again</p></div>")
	p := s.Element(1)

	assert.Equal(t, "Hello ", FirstText(s.Root).Data)
	texts := TextNodes(p)
	require.Len(t, texts, 3)
	assert.Equal(t, " again", texts[2].Data)
	assert.Equal(t, "Hello world again", TextContent(p))
	assert.True(t, len(AllTextNodes(s.Root)) > len(TextNodes(s.Root)))
}

func TestRuneHelpers(t *testing.T) {
	s := "café au lait"
	assert.Equal(t, 12, RuneLen(s))
	assert.Equal(t, "café", Substr(s, 0, 4))
	assert.Equal(t, "lait", Substr(s, 8, 99))
	assert.Equal(t, "", Substr(s, 5, 5))
	assert.Equal(t, 5, IndexRunes(s, "au"))
	assert.Equal(t, -1, IndexRunes(s, "tea"))
}

func TestSanitize_KeepsTables(t *testing.T) {
	out := Sanitize(`<table border="1"><tr><td colspan="2">x</td></tr></table>`)
	assert.True(t, strings.Contains(out, "<table"))
	assert.Contains(t, out, `colspan="2"`)
}

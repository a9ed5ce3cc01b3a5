package fragment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gerkensm/vaporvibe/internal/domain"
)

const sampleDoc = `<!DOCTYPE html>
<html>
<head>
<title>Demo</title>
<style>body { color: red; }</style>
</head>
<body>
<header><h1>App</h1></header>
<main><p>hello &amp; welcome</p><div class="inner"><span>kept</span></div></main>
<script>var snippet = "<div>not markup</div>";</script>
</body>
</html>`

func TestApplyExtractsComponentsAndStyles(t *testing.T) {
	res := Apply(sampleDoc, domain.NewFragmentTables())

	assert.Contains(t, res.Document, `<style data-style-id="vv-style-1">body { color: red; }</style>`)
	assert.Contains(t, res.Document, `<header data-id="vv-gen-1"><h1>App</h1></header>`)
	assert.Contains(t, res.Document, `<main data-id="vv-gen-2">`)

	require.Len(t, res.Tables.Components, 2)
	require.Len(t, res.Tables.Styles, 1)
	assert.Equal(t, `<header data-id="vv-gen-1"><h1>App</h1></header>`, res.Tables.Components["vv-gen-1"])
	assert.True(t, strings.HasPrefix(res.Tables.Components["vv-gen-2"], `<main data-id="vv-gen-2">`))
	assert.True(t, strings.HasSuffix(res.Tables.Components["vv-gen-2"], `</main>`))

	// The nested div is part of the main fragment, not a fragment itself.
	assert.NotContains(t, res.Tables.Components, "vv-gen-3")
	// Scripts are never components.
	assert.Contains(t, res.Document, `<script>var snippet = "<div>not markup</div>";</script>`)
}

func TestApplyLeavesUntaggedMarkupByteIdentical(t *testing.T) {
	doc := `<!DOCTYPE html>
<html><head><title>Plain</title></head>
<body>
<p>paragraphs are not cacheable</p>
<ul><li>one</li><li>two</li></ul>
</body></html>`
	res := Apply(doc, domain.NewFragmentTables())
	assert.Equal(t, doc, res.Document)
	assert.Empty(t, res.Tables.Components)
	assert.Empty(t, res.Tables.Styles)
}

func TestApplyResolvesMarkers(t *testing.T) {
	first := Apply(sampleDoc, domain.NewFragmentTables())

	next := `<!DOCTYPE html>
<html><head>{{style:vv-style-1}}</head>
<body>
{{component:vv-gen-1}}
<main><p>fresh content</p></main>
</body></html>`
	res := Apply(next, first.Tables)

	assert.Contains(t, res.Document, `<header data-id="vv-gen-1"><h1>App</h1></header>`)
	assert.Contains(t, res.Document, `<style data-style-id="vv-style-1">body { color: red; }</style>`)
	assert.NotContains(t, res.Document, "{{component:")
	assert.Equal(t, []string{"vv-gen-1"}, res.Resolved.Components)
	assert.Equal(t, []string{"vv-style-1"}, res.Resolved.Styles)
	assert.Empty(t, res.Missing.Components)
}

func TestApplyRecordsMissingMarkersInPlace(t *testing.T) {
	doc := `<html><body><main>{{component:vv-gen-99}} {{style:nope}}</main></body></html>`
	res := Apply(doc, domain.NewFragmentTables())

	assert.Contains(t, res.Document, "{{component:vv-gen-99}}")
	assert.Contains(t, res.Document, "{{style:nope}}")
	assert.Equal(t, []string{"vv-gen-99"}, res.Missing.Components)
	assert.Equal(t, []string{"nope"}, res.Missing.Styles)
}

func TestApplyAssignsMonotonicIDs(t *testing.T) {
	tables := domain.NewFragmentTables()
	seen := map[string]bool{}
	docs := []string{
		`<html><body><header><h1>one</h1></header><main>a</main></body></html>`,
		`<html><body><section>b</section></body></html>`,
		`<html><body><nav>c</nav><footer>d</footer></body></html>`,
	}
	for _, doc := range docs {
		res := Apply(doc, tables)
		tables = res.Tables
		for id := range res.Tables.Components {
			seen[id] = true
		}
	}
	assert.Len(t, seen, 5)
	for i := 1; i <= 5; i++ {
		assert.Contains(t, seen, "vv-gen-"+string(rune('0'+i)))
	}
}

func TestApplyDerivesNextIDFromDocumentText(t *testing.T) {
	// A forked branch may replay a document whose ids are absent from the
	// tables; the literal ids still advance the counter.
	doc := `<html><body><div data-id="vv-gen-7">old</div><section>new</section></body></html>`
	res := Apply(doc, domain.NewFragmentTables())

	assert.Equal(t, `<section data-id="vv-gen-8">new</section>`, res.Tables.Components["vv-gen-8"])
	assert.Equal(t, `<div data-id="vv-gen-7">old</div>`, res.Tables.Components["vv-gen-7"])
}

func TestApplyKeepsExistingIDsStable(t *testing.T) {
	doc := `<html><body><header data-id="vv-gen-3">kept</header></body></html>`
	res := Apply(doc, domain.NewFragmentTables())
	assert.Equal(t, doc, res.Document)
	assert.Equal(t, `<header data-id="vv-gen-3">kept</header>`, res.Tables.Components["vv-gen-3"])
}

func TestApplyToleratesMalformedMarkup(t *testing.T) {
	docs := []string{
		"",
		"<html><body><div>never closed</body></html>",
		"<body><header><h1>open",
		"{{component:}} {{bogus}}",
		"<body>{{component:a}}{{component:a}}</body>",
	}
	for _, doc := range docs {
		assert.NotPanics(t, func() { Apply(doc, domain.NewFragmentTables()) })
	}
}

func TestApplyDeduplicatesMissingIDs(t *testing.T) {
	doc := `<body><main>{{component:x}} and {{component:x}}</main></body>`
	res := Apply(doc, domain.NewFragmentTables())
	assert.Equal(t, []string{"x"}, res.Missing.Components)
}

func TestNestedSameTagStaysOneFragment(t *testing.T) {
	doc := `<html><body><div id="outer"><div id="inner">deep</div></div></body></html>`
	res := Apply(doc, domain.NewFragmentTables())
	require.Len(t, res.Tables.Components, 1)
	markup := res.Tables.Components["vv-gen-1"]
	assert.Contains(t, markup, `id="inner"`)
	assert.True(t, strings.HasSuffix(markup, "</div>"))
}

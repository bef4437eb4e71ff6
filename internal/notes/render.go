package notes

import (
	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"
)

// ugcPolicy is safe for concurrent use once built.
var ugcPolicy = bluemonday.UGCPolicy()

// RenderMarkdown converts note content to sanitized HTML. Raw HTML in the
// markdown passes through the renderer and is then stripped to the UGC
// allowlist, so scripts, event handlers and javascript: URLs never survive.
func RenderMarkdown(content string) string {
	// Parsers carry state; build one per call.
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock)
	doc := p.Parse([]byte(content))

	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{
		Flags: mdhtml.CommonFlags | mdhtml.HrefTargetBlank,
	})
	return string(ugcPolicy.SanitizeBytes(markdown.Render(doc, renderer)))
}

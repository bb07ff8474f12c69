package teams

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatMessage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		message     string
		format      string
		content     string
		contentType string
	}{
		{name: "html passthrough", message: "<b>hi</b>", format: "html", content: "<b>hi</b>", contentType: ContentHTML},
		{name: "text escapes", message: `a<b>&"c'`, format: "text", content: "a&lt;b&gt;&amp;&quot;c&#39;", contentType: ContentText},
		{name: "empty format is text", message: "x < y", format: "", content: "x &lt; y", contentType: ContentText},
		{name: "unknown format is text", message: "**no**", format: "rst", content: "**no**", contentType: ContentText},
		{name: "markdown bold italic", message: "**bold** and *italic*", format: "markdown", content: "<strong>bold</strong> and <em>italic</em>", contentType: ContentHTML},
		{name: "markdown code", message: "run `make`", format: "markdown", content: "run <code>make</code>", contentType: ContentHTML},
		{name: "markdown newlines", message: "a\nb", format: "markdown", content: "a<br />b", contentType: ContentHTML},
		{name: "markdown escapes first", message: "**<x>**", format: "markdown", content: "<strong>&lt;x&gt;</strong>", contentType: ContentHTML},
		{name: "markdown non greedy", message: "*a* b *c*", format: "markdown", content: "<em>a</em> b <em>c</em>", contentType: ContentHTML},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			content, ct := FormatMessage(tt.message, tt.format)
			assert.Equal(t, tt.content, content)
			assert.Equal(t, tt.contentType, ct)
		})
	}
}

func TestFormatMessageScriptIsEscaped(t *testing.T) {
	content, _ := FormatMessage("<script>alert(1)</script>", "text")
	assert.NotContains(t, content, "<script>")
	assert.Contains(t, content, "&lt;script&gt;")
}

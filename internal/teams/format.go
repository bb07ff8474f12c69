package teams

import (
	"regexp"
	"strings"
)

const (
	FormatHTML     = "html"
	FormatMarkdown = "markdown"
	FormatText     = "text"

	ContentHTML = "html"
	ContentText = "text"
)

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// Applied in order; bold must run before italic since "**" contains "*".
var markdownRules = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`\*\*(.+?)\*\*`), "<strong>$1</strong>"},
	{regexp.MustCompile(`\*(.+?)\*`), "<em>$1</em>"},
	{regexp.MustCompile("`(.+?)`"), "<code>$1</code>"},
}

// FormatMessage converts message into Graph body content for the given format.
// HTML is passed through untouched; callers are trusted to send safe markup.
func FormatMessage(message, format string) (content, contentType string) {
	switch format {
	case FormatHTML:
		return message, ContentHTML
	case FormatMarkdown:
		out := htmlEscaper.Replace(message)
		for _, r := range markdownRules {
			out = r.re.ReplaceAllString(out, r.repl)
		}
		return strings.ReplaceAll(out, "\n", "<br />"), ContentHTML
	default:
		return htmlEscaper.Replace(message), ContentText
	}
}

// Package htmlsanitize cleans page HTML produced by the tenant page editor
// before it is stored.
package htmlsanitize

import (
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

var policy = newPolicy()

// newPolicy starts from bluemonday's user-generated-content policy and adds
// the layout attributes the editor emits.
func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Globally()
	p.AllowStyles("text-align").MatchingEnum("left", "center", "right", "justify").
		OnElements("p", "h1", "h2", "h3", "h4", "h5", "h6", "td", "th", "div")
	p.AllowStyles("width").Matching(regexp.MustCompile(`^\d{1,4}(px|%)$`)).
		OnElements("table", "td", "th", "img")
	p.AllowAttrs("target").Matching(regexp.MustCompile(`^_blank$`)).OnElements("a")
	p.AddTargetBlankToFullyQualifiedLinks(false)
	return p
}

// Sanitize returns html with scripts, event handlers, unsafe URLs and
// disallowed elements removed. Safe for concurrent use.
func Sanitize(html string) string {
	if html == "" {
		return ""
	}
	return policy.Sanitize(html)
}

package lifecycle

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// plainText strips markup from user-supplied text. Entities are decoded
// again so stored values stay plain; transports escape for their own format.
func plainText(s string) string {
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
}

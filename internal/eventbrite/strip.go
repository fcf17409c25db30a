package eventbrite

import (
	"strings"

	"golang.org/x/net/html"
)

// StripTags removes markup and comments from s and keeps the text between the
// tags as written, entities included.
func StripTags(s string) string {
	if !strings.ContainsAny(s, "<>") {
		return s
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(z.Raw())
		}
	}
}

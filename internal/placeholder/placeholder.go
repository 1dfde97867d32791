// Package placeholder substitutes ${Column} tokens in template text with
// values from a data row. Two variants exist: a raw-text variant for
// filenames and plain bodies, and a markup variant that HTML-escapes
// substituted values so row data can never be interpreted as active markup.
package placeholder

import (
	"html"
	"regexp"

	"github.com/mhollstein/briefwerk/internal/domain"
)

// token matches one ${Name} placeholder. The name may be empty; nested
// braces are not supported.
var token = regexp.MustCompile(`\$\{([^{}]*)\}`)

// Expand replaces every ${Column} token in text with the row's value for
// that column. Tokens naming a column the row does not carry become the
// empty string, never the literal token. Text without tokens is returned
// unchanged.
func Expand(text string, row domain.DataRow) string {
	return expand(text, row, func(s string) string { return s })
}

// ExpandHTML behaves like Expand but HTML-escapes every substituted value.
// Which placeholders resolve is identical to Expand; only the escaping of
// special characters differs.
func ExpandHTML(text string, row domain.DataRow) string {
	return expand(text, row, html.EscapeString)
}

func expand(text string, row domain.DataRow, escape func(string) string) string {
	if !token.MatchString(text) {
		return text
	}
	return token.ReplaceAllStringFunc(text, func(m string) string {
		name := m[2 : len(m)-1]
		value, ok := row.Get(name)
		if !ok {
			return ""
		}
		return escape(value)
	})
}

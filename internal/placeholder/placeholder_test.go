package placeholder_test

import (
	"testing"

	"github.com/mhollstein/briefwerk/internal/domain"
	"github.com/mhollstein/briefwerk/internal/placeholder"
	"github.com/stretchr/testify/assert"
)

func row(pairs ...string) domain.DataRow {
	var cols, cells []string
	for i := 0; i+1 < len(pairs); i += 2 {
		cols = append(cols, pairs[i])
		cells = append(cells, pairs[i+1])
	}
	return domain.NewDataRow(cols, cells)
}

func TestExpand_Scenario(t *testing.T) {
	r := row("Name", "Ann", "Email", "a@x.com")
	assert.Equal(t, "Hello Ann", placeholder.Expand("Hello ${Name}", r))
}

func TestExpand_IdentityWithoutTokens(t *testing.T) {
	r := row("Name", "Ann")

	tests := []string{
		"",
		"plain text",
		"almost a $token but not quite",
		"braces {Name} without dollar",
		"<p>markup & entities</p>",
	}
	for _, s := range tests {
		assert.Equal(t, s, placeholder.Expand(s, r), "raw variant must be identity for %q", s)
		assert.Equal(t, s, placeholder.ExpandHTML(s, r), "markup variant must be identity for %q", s)
	}
}

func TestExpand_UnknownColumnBecomesEmpty(t *testing.T) {
	r := row("Name", "Ann")

	assert.Equal(t, "Hi , bye", placeholder.Expand("Hi ${Nope}, bye", r))
	assert.Equal(t, "x", placeholder.Expand("${}x", r))
}

func TestExpand_MultipleAndRepeatedTokens(t *testing.T) {
	r := row("First", "Ann", "Last", "Lee")

	got := placeholder.Expand("${First} ${Last}, dear ${First}", r)
	assert.Equal(t, "Ann Lee, dear Ann", got)
}

func TestExpandHTML_EscapesValues(t *testing.T) {
	r := row("Name", `<b>Ann & "Co"</b>`)

	got := placeholder.ExpandHTML("Hello ${Name}", r)
	assert.Equal(t, "Hello &lt;b&gt;Ann &amp; &#34;Co&#34;&lt;/b&gt;", got)
	assert.NotContains(t, got, "<b>")
}

// The raw and markup variants must resolve exactly the same placeholders and
// differ only in escaping of special characters.
func TestVariants_DifferOnlyInEscaping(t *testing.T) {
	r := row("A", "safe", "B", "a<b")

	tmpl := "${A}|${B}|${Missing}"
	raw := placeholder.Expand(tmpl, r)
	markup := placeholder.ExpandHTML(tmpl, r)

	assert.Equal(t, "safe|a<b|", raw)
	assert.Equal(t, "safe|a&lt;b|", markup)
}

func TestExpand_ValueContainingTokenIsNotReexpanded(t *testing.T) {
	r := row("A", "${B}", "B", "boom")

	// Substitution is a single pass over the template text.
	assert.Equal(t, "${B}", placeholder.Expand("${A}", r))
}

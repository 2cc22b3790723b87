// Package normalize provides entity-decoding text normalization for Helmsman.
//
// LLM output that passed through web UIs or templating layers frequently
// arrives with stacked HTML entity encoding (&amp;quot; for a double quote,
// sometimes two or three layers deep). Normalize peels those layers off
// until the text stops changing, then trims surrounding whitespace.
package normalize

import (
	"html"
	"strings"
)

// maxDecodePasses bounds the fixed-point loop. Convergence is checked by
// string equality, so the cap only matters if a decoder bug ever produced
// a non-converging cycle.
const maxDecodePasses = 10

// Normalize repeatedly decodes one layer of HTML entity encoding until a
// fixed point is reached, then trims leading and trailing whitespace.
// Blank input maps to the empty string.
func Normalize(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}

	for i := 0; i < maxDecodePasses; i++ {
		decoded := html.UnescapeString(s)
		if decoded == s {
			break
		}
		s = decoded
	}

	return strings.TrimSpace(s)
}

package chunker

import (
	"regexp"
	"strings"
)

var (
	horizontalSpace = regexp.MustCompile(`[ \t\f\v]+`)
	spaceBeforeEOL  = regexp.MustCompile(` +\n`)
	manyNewlines    = regexp.MustCompile(`\n{3,}`)
)

// Normalize prepares extracted text for splitting: CRLF and CR become LF, runs of spaces and
// tabs collapse to one space, three or more newlines collapse to a paragraph break, and the
// result is trimmed.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = horizontalSpace.ReplaceAllString(text, " ")
	text = spaceBeforeEOL.ReplaceAllString(text, "\n")
	text = manyNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

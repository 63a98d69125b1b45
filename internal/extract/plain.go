package extract

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeText returns data as a string with any UTF-8 byte order mark removed. Invalid UTF-8
// sequences are replaced with the replacement character.
func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return strings.ToValidUTF8(string(data), "\ufffd")
	}
	return string(data)
}

func loadPlain(data []byte) (*Loaded, error) {
	return &Loaded{Text: decodeText(data)}, nil
}

// Package fileid builds blob object keys and safe file names for uploaded documents.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"unicode"
)

const (
	sourcePrefix = "file:"
	maxNameRunes = 128
)

// ObjectKey returns the blob key for a document: users/<user>/<doc>/<safe-name>.
func ObjectKey(userID, docID, fileName string) string {
	return strings.Join([]string{"users", userID, docID, SafeName(fileName)}, "/")
}

// SafeName reduces a client-supplied file name to a single path segment made of letters,
// digits, dot, dash and underscore. Empty or dot-only names become "file".
func SafeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	n := 0
	for _, r := range name {
		if n >= maxNameRunes {
			break
		}
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		default:
			continue
		}
		n++
	}
	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		return "file"
	}
	return out
}

// SourceID returns a stable identifier for a local file path.
// Same path always yields the same ID; the watcher uses it to skip duplicate events.
func SourceID(absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(normalized))
	return sourcePrefix + hex.EncodeToString(hash[:])
}

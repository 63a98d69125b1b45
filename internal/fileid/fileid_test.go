package fileid

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestObjectKey(t *testing.T) {
	got := ObjectKey("u1", "d1", "My Report (final).pdf")
	want := "users/u1/d1/My_Report_final.pdf"
	if got != want {
		t.Errorf("ObjectKey = %q, want %q", got, want)
	}
}

func TestSafeName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "notes.txt", "notes.txt"},
		{"path traversal", "../../etc/passwd", "passwd"},
		{"windows path", `C:\Users\me\photo.jpg`, "photo.jpg"},
		{"hidden file", ".env", "env"},
		{"only dots", "..", "file"},
		{"empty", "", "file"},
		{"unicode letters kept", "résumé.docx", "résumé.docx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeName(tt.in); got != tt.want {
				t.Errorf("SafeName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSafeName_truncates(t *testing.T) {
	got := SafeName(strings.Repeat("a", 500) + ".txt")
	if len([]rune(got)) != maxNameRunes {
		t.Errorf("len = %d, want %d", len([]rune(got)), maxNameRunes)
	}
}

func TestSourceID(t *testing.T) {
	id1 := SourceID("/foo/bar.txt")
	if id1 != SourceID("/foo/bar.txt") {
		t.Error("same path should give same ID")
	}
	if !strings.HasPrefix(id1, sourcePrefix) {
		t.Errorf("ID should have prefix %q: got %q", sourcePrefix, id1)
	}
	if id1 == SourceID("/foo/baz.txt") {
		t.Error("different paths should give different IDs")
	}
	if SourceID("/foo/./bar.txt") != SourceID(filepath.Join("/foo", "bar.txt")) {
		t.Error("equivalent paths should give the same ID")
	}
}

package models

import (
	"strings"
	"time"
)

// AutoTagMinConfidence is the confidence floor for a tag to appear in Document.AutoTags.
const AutoTagMinConfidence = 0.3

// TagSource records which reading produced a document tag.
type TagSource string

const (
	TagSourceAI     TagSource = "ai"
	TagSourceUser   TagSource = "user"
	TagSourceOCR    TagSource = "ocr"
	TagSourceVision TagSource = "vision"
)

// Valid reports whether s is a known tag source.
func (s TagSource) Valid() bool {
	switch s {
	case TagSourceAI, TagSourceUser, TagSourceOCR, TagSourceVision:
		return true
	}
	return false
}

// Tag is a globally unique, lower-cased label.
type Tag struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Category  string    `json:"category,omitempty" db:"category"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DocumentTag associates a tag with a document.
type DocumentTag struct {
	DocumentID string    `json:"document_id" db:"document_id"`
	TagID      string    `json:"tag_id" db:"tag_id"`
	TagName    string    `json:"tag_name" db:"tag_name"`
	Confidence float64   `json:"confidence" db:"confidence"`
	Source     TagSource `json:"source" db:"source"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// NormalizeTagName case-folds and trims a tag name.
func NormalizeTagName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

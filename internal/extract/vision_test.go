package extract

import (
	"strings"
	"testing"
)

func TestParseVisionJSON(t *testing.T) {
	a, err := ParseVisionJSON(`noise {"description": "A beach", "objects": "palm, sand", "confidence": 1.4} trailing`)
	if err != nil {
		t.Fatalf("ParseVisionJSON: %v", err)
	}
	if a.MainDescription != "A beach" {
		t.Errorf("MainDescription = %q", a.MainDescription)
	}
	if a.Confidence != 1 {
		t.Errorf("Confidence = %v, want clamped to 1", a.Confidence)
	}
	if len(a.Objects) != 2 || a.Objects[0] != "palm" {
		t.Errorf("Objects = %v", a.Objects)
	}

	if _, err := ParseVisionJSON("no json here"); err == nil {
		t.Error("expected error for text without JSON")
	}
	if _, err := ParseVisionJSON(`{"objects": 5}`); err == nil {
		t.Error("expected error for wrongly typed field")
	}
}

func TestParseVisionJSON_missingConfidence(t *testing.T) {
	a, err := ParseVisionJSON(`{"description": "x"}`)
	if err != nil {
		t.Fatal(err)
	}
	if a.Confidence != FallbackConfidence {
		t.Errorf("Confidence = %v", a.Confidence)
	}
}

func TestParseVisionFallback(t *testing.T) {
	text := `Here is my analysis of the image.

**Description:** A crowded farmers market at noon.
- Objects: stalls, apples; baskets
2. Scene Type: outdoor market
Colors: red, green
Activities: shopping
Tags: "market", food
Categories: photo
Text Type: printed
Extracted Text: FRESH APPLES $2`

	a := ParseVisionFallback(text)
	if a.Parser != "fallback" || a.Confidence != FallbackConfidence {
		t.Errorf("parser=%q confidence=%v", a.Parser, a.Confidence)
	}
	if a.MainDescription != "A crowded farmers market at noon." {
		t.Errorf("MainDescription = %q", a.MainDescription)
	}
	if got := strings.Join(a.Objects, "|"); got != "stalls|apples|baskets" {
		t.Errorf("Objects = %q", got)
	}
	if a.SceneType != "outdoor market" {
		t.Errorf("SceneType = %q", a.SceneType)
	}
	if got := strings.Join(a.Tags, "|"); got != "market|food" {
		t.Errorf("Tags = %q", got)
	}
	if a.TextType != "printed" {
		t.Errorf("TextType = %q", a.TextType)
	}
	if a.ExtractedText != "FRESH APPLES $2" {
		t.Errorf("ExtractedText = %q", a.ExtractedText)
	}
}

func TestParseVisionFallback_firstParagraph(t *testing.T) {
	a := ParseVisionFallback("\n\nA sunny beach with palm trees.\nWaves in the back.\n\nSecond paragraph.")
	if a.MainDescription != "A sunny beach with palm trees.\nWaves in the back." {
		t.Errorf("MainDescription = %q", a.MainDescription)
	}
	if a.Confidence != FallbackConfidence {
		t.Errorf("Confidence = %v", a.Confidence)
	}
}

func TestParseVision_prefersJSON(t *testing.T) {
	if a := ParseVision(`{"description": "d", "confidence": 0.5}`); a.Parser != "json" || a.Confidence != 0.5 {
		t.Errorf("got %+v", a)
	}
	if a := ParseVision("Description: d"); a.Parser != "fallback" {
		t.Errorf("got %+v", a)
	}
}

func TestBuildSearchableContent(t *testing.T) {
	a := &VisionAnalysis{
		ExtractedText: "STOP",
		Description:   "A road sign.",
		Objects:       StringList{"sign", "pole"},
		SceneType:     "street",
		Activities:    nil,
		Tags:          StringList{"traffic"},
	}
	want := "Text: STOP\nDescription: A road sign.\nObjects: sign, pole\nScene: street\nTags: traffic"
	if got := BuildSearchableContent(a); got != want {
		t.Errorf("got %q\nwant %q", got, want)
	}

	if got := BuildSearchableContent(&VisionAnalysis{SearchableContent: " only this "}); got != "only this" {
		t.Errorf("got %q", got)
	}
}

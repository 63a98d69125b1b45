package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/hyperjump/docsight/internal/llm"
)

// FallbackConfidence is assigned to analyses recovered by ParseVisionFallback.
const FallbackConfidence = 0.7

// VisionPrompt asks the vision model for a single JSON object describing the image.
const VisionPrompt = `Analyze this image for a document search index. Respond with ONE JSON object and nothing else, using these keys:
{
  "extracted_text": "all readable text in the image, verbatim",
  "description": "two or three sentences describing the image",
  "objects": ["notable objects"],
  "people": ["people or roles visible"],
  "scene_type": "e.g. office, outdoor, screenshot, document scan",
  "colors": ["dominant colors"],
  "mood": "overall mood",
  "activities": ["activities shown"],
  "tags": ["short search keywords"],
  "categories": ["broad categories such as receipt, diagram, photo"],
  "text_type": "none | printed | handwritten | mixed",
  "confidence": 0.0,
  "searchable_content": "one paragraph combining everything above"
}`

// StringList decodes either a JSON array of strings or a single comma-separated string.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = cleanList(list)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("expected string or list of strings: %w", err)
	}
	*l = cleanList(strings.Split(s, ","))
	return nil
}

// VisionAnalysis is the structured reading of an image.
type VisionAnalysis struct {
	ExtractedText     string     `json:"extracted_text"`
	Description       string     `json:"description"`
	MainDescription   string     `json:"main_description,omitempty"`
	Objects           StringList `json:"objects"`
	People            StringList `json:"people"`
	SceneType         string     `json:"scene_type"`
	Colors            StringList `json:"colors"`
	Mood              string     `json:"mood"`
	Activities        StringList `json:"activities"`
	Tags              StringList `json:"tags"`
	Categories        StringList `json:"categories"`
	TextType          string     `json:"text_type"`
	Confidence        float64    `json:"confidence"`
	SearchableContent string     `json:"searchable_content"`
	// Parser is "json" or "fallback".
	Parser string `json:"-"`
}

// ParseVisionJSON decodes the first well-formed JSON object in text. It fails if there is none
// or if it does not decode into a VisionAnalysis.
func ParseVisionJSON(text string) (*VisionAnalysis, error) {
	a, err := llm.ParseStructured[VisionAnalysis](text, nil)
	if err != nil {
		return nil, err
	}
	a.Parser = "json"
	if a.Confidence <= 0 || a.Confidence > 1 {
		a.Confidence = clamp01(a.Confidence)
		if a.Confidence == 0 {
			a.Confidence = FallbackConfidence
		}
	}
	if a.MainDescription == "" {
		a.MainDescription = a.Description
	}
	return a, nil
}

var (
	labelPrefix = `(?im)^[ \t]*(?:[-*#]+[ \t]*)?(?:\d+[.)][ \t]*)?(?:\*\*)?[ \t]*`
	labelSuffix = `[ \t]*(?:\*\*)?[ \t]*[:\-][ \t]*(?:\*\*)?[ \t]*(.+)$`

	fallbackSections = map[string]*regexp.Regexp{
		"extracted_text": labelRegexp(`(?:extracted[ _]text|text(?:[ _]content)?|ocr(?:[ _]text)?)`),
		"description":    labelRegexp(`(?:main[ _])?description`),
		"objects":        labelRegexp(`objects?`),
		"people":         labelRegexp(`people|persons?`),
		"scene_type":     labelRegexp(`scene(?:[ _]type)?|setting`),
		"colors":         labelRegexp(`colou?rs?`),
		"mood":           labelRegexp(`mood|atmosphere`),
		"activities":     labelRegexp(`activit(?:y|ies)`),
		"tags":           labelRegexp(`tags|keywords`),
		"categories":     labelRegexp(`categor(?:y|ies)`),
		"text_type":      labelRegexp(`text[ _]type`),
	}
)

func labelRegexp(label string) *regexp.Regexp {
	return regexp.MustCompile(labelPrefix + `(?:` + label + `)` + labelSuffix)
}

// ParseVisionFallback recovers an analysis from free text by matching labeled lines such as
// "Description: ...". It never fails. main_description comes from the description section or,
// when absent, the first non-empty paragraph. Confidence is FallbackConfidence.
func ParseVisionFallback(text string) *VisionAnalysis {
	section := func(name string) string {
		m := fallbackSections[name].FindStringSubmatch(text)
		if len(m) < 2 {
			return ""
		}
		return strings.Trim(strings.TrimSpace(m[1]), `"*`)
	}
	list := func(name string) StringList {
		s := section(name)
		if s == "" {
			return nil
		}
		return cleanList(strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }))
	}

	a := &VisionAnalysis{
		ExtractedText: section("extracted_text"),
		Description:   section("description"),
		Objects:       list("objects"),
		People:        list("people"),
		SceneType:     section("scene_type"),
		Colors:        list("colors"),
		Mood:          section("mood"),
		Activities:    list("activities"),
		Tags:          list("tags"),
		Categories:    list("categories"),
		TextType:      section("text_type"),
		Confidence:    FallbackConfidence,
		Parser:        "fallback",
	}
	a.MainDescription = a.Description
	if a.MainDescription == "" {
		a.MainDescription = firstParagraph(text)
	}
	if a.Description == "" {
		a.Description = a.MainDescription
	}
	return a
}

// ParseVision tries ParseVisionJSON, then ParseVisionFallback.
func ParseVision(text string) *VisionAnalysis {
	if a, err := ParseVisionJSON(text); err == nil {
		return a
	}
	return ParseVisionFallback(text)
}

// BuildSearchableContent joins the analysis into labeled lines used as the document text.
func BuildSearchableContent(a *VisionAnalysis) string {
	var lines []string
	add := func(label, value string) {
		if value = strings.TrimSpace(value); value != "" {
			lines = append(lines, label+": "+value)
		}
	}
	add("Text", a.ExtractedText)
	desc := a.Description
	if desc == "" {
		desc = a.MainDescription
	}
	add("Description", desc)
	add("Objects", strings.Join(a.Objects, ", "))
	add("Scene", a.SceneType)
	add("Activities", strings.Join(a.Activities, ", "))
	add("Tags", strings.Join(a.Tags, ", "))
	if len(lines) == 0 {
		return strings.TrimSpace(a.SearchableContent)
	}
	return strings.Join(lines, "\n")
}

// Metadata returns the analysis fields stored in document processing metadata.
func (a *VisionAnalysis) Metadata() map[string]interface{} {
	m := map[string]interface{}{
		"parser":     a.Parser,
		"confidence": a.Confidence,
	}
	setStr := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	setList := func(k string, v StringList) {
		if len(v) > 0 {
			m[k] = []string(v)
		}
	}
	setStr("main_description", a.MainDescription)
	setStr("scene_type", a.SceneType)
	setStr("mood", a.Mood)
	setStr("text_type", a.TextType)
	setList("objects", a.Objects)
	setList("people", a.People)
	setList("colors", a.Colors)
	setList("activities", a.Activities)
	setList("tags", a.Tags)
	setList("categories", a.Categories)
	return m
}

func firstParagraph(text string) string {
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			return p
		}
	}
	return ""
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.Trim(strings.TrimSpace(s), `"'.`)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

package models

// metadataKind is the accepted shape of a recognized metadata field.
type metadataKind int

const (
	kindString metadataKind = iota
	kindNumber
	kindStringList
	kindObject
)

// recognizedMetadata lists metadata keys with a known shape. Values of a recognized key with
// the wrong shape are dropped on write; unknown keys pass through untouched.
var recognizedMetadata = map[string]metadataKind{
	"file_name":        kindString,
	"mime_type":        kindString,
	"content_type":     kindString,
	"source":           kindString,
	"summary":          kindString,
	"summary_error":    kindString,
	"text_type":        kindString,
	"scene_type":       kindString,
	"mood":             kindString,
	"parser":           kindString,
	"chunk_start":      kindNumber,
	"chunk_end":        kindNumber,
	"overlap_chars":    kindNumber,
	"page_count":       kindNumber,
	"chunk_count":      kindNumber,
	"total_chunks":     kindNumber,
	"confidence":       kindNumber,
	"key_topics":       kindStringList,
	"objects":          kindStringList,
	"people":           kindStringList,
	"colors":           kindStringList,
	"activities":       kindStringList,
	"categories":       kindStringList,
	"tags":             kindStringList,
	"vision":           kindObject,
	"processing_stats": kindObject,
}

// SanitizeMetadata returns a copy of m with nil values removed and recognized keys checked
// against their expected shape. A nil map yields an empty map.
func SanitizeMetadata(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		kind, known := recognizedMetadata[k]
		if !known {
			out[k] = v
			continue
		}
		if normalized, ok := coerceMetadata(kind, v); ok {
			out[k] = normalized
		}
	}
	return out
}

// MergeMetadata returns a new map with base overlaid by extra.
func MergeMetadata(base, extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func coerceMetadata(kind metadataKind, v interface{}) (interface{}, bool) {
	switch kind {
	case kindString:
		s, ok := v.(string)
		return s, ok
	case kindNumber:
		switch n := v.(type) {
		case int, int32, int64, float32, float64:
			return n, true
		}
		return nil, false
	case kindStringList:
		switch list := v.(type) {
		case []string:
			return list, true
		case []interface{}:
			out := make([]string, 0, len(list))
			for _, item := range list {
				s, ok := item.(string)
				if !ok {
					return nil, false
				}
				out = append(out, s)
			}
			return out, true
		}
		return nil, false
	case kindObject:
		_, ok := v.(map[string]interface{})
		return v, ok
	}
	return nil, false
}

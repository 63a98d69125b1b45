package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoJSONObject is returned when text contains no balanced JSON object.
var ErrNoJSONObject = errors.New("no JSON object found")

// ExtractJSONObject returns the first balanced {...} object in text. Braces inside JSON
// strings are ignored. Markdown code fences around the object are tolerated.
func ExtractJSONObject(text string) (string, error) {
	for start := 0; start < len(text); start++ {
		if text[start] != '{' {
			continue
		}
		if end, ok := matchObject(text, start); ok {
			candidate := text[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, nil
			}
		}
	}
	return "", ErrNoJSONObject
}

// matchObject returns the index of the brace closing the object opened at start.
func matchObject(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// ParseStructured extracts the first JSON object in text and decodes it into a T. validate,
// if non-nil, may coerce fields and reject the value.
func ParseStructured[T any](text string, validate func(*T) error) (*T, error) {
	obj, err := ExtractJSONObject(text)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal([]byte(obj), &out); err != nil {
		return nil, fmt.Errorf("failed to decode structured response: %w", err)
	}
	if validate != nil {
		if err := validate(&out); err != nil {
			return nil, fmt.Errorf("invalid structured response: %w", err)
		}
	}
	return &out, nil
}

// CompleteStructured runs prompt through c and parses the reply with ParseStructured.
func CompleteStructured[T any](ctx context.Context, c Completer, prompt string, validate func(*T) error) (*T, error) {
	text, err := c.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return ParseStructured[T](text, validate)
}

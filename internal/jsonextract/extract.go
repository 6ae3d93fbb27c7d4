// Package jsonextract recovers a JSON object from free-form model output.
// Models asked for JSON frequently wrap it in prose or a fenced code block,
// so extraction tries progressively looser strategies.
package jsonextract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// Object extracts a JSON object from text. Strategies in order: parse the
// whole body, parse the contents of a triple-backtick fenced block, then
// parse the outermost balanced brace span.
func Object(text string) (map[string]any, error) {
	trimmed := strings.TrimSpace(text)

	var out map[string]any
	if err := json.Unmarshal([]byte(trimmed), &out); err == nil {
		return out, nil
	}

	if m := fencedBlock.FindStringSubmatch(trimmed); m != nil {
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &out); err == nil {
			return out, nil
		}
	}

	if span := outerBraces(trimmed); span != "" {
		if err := json.Unmarshal([]byte(span), &out); err == nil {
			return out, nil
		}
	}

	return nil, fmt.Errorf("no JSON object found in %d bytes of output", len(text))
}

// outerBraces returns the outermost balanced {...} span, or "" when braces
// never balance. String literals are skipped so braces inside values do not
// confuse the depth count.
func outerBraces(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

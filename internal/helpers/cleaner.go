package helpers

import (
	"errors"
	"strings"
)

// ExtractJSON finds and returns the first JSON object or array in s.
// It first removes Markdown code fences if present, then scans for a
// balanced {...} or [...] while ignoring braces/brackets inside strings.
// LLM responses frequently wrap JSON in prose or ```json fences.
func ExtractJSON(s string) (string, error) {
	s = trimBOM(strings.TrimSpace(s))

	if inner, ok := stripFirstCodeFence(s); ok {
		s = strings.TrimSpace(inner)
	}

	if len(s) > 0 && (s[0] == '{' || s[0] == '[') {
		if out, ok := extractBalancedJSONFrom(s, 0); ok {
			return out, nil
		}
	}

	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			if out, ok := extractBalancedJSONFrom(s, i); ok {
				return out, nil
			}
		}
	}

	return "", errors.New("no balanced JSON object/array found")
}

func trimBOM(s string) string {
	return strings.TrimPrefix(s, "\uFEFF")
}

// stripFirstCodeFence removes the first fenced code block if s starts with ``` or ~~~.
// It accepts an optional language tag (e.g., ```json).
func stripFirstCodeFence(s string) (inner string, ok bool) {
	trim := strings.TrimLeft(s, "\n\r\t ")
	if strings.HasPrefix(trim, "```") || strings.HasPrefix(trim, "~~~") {
		fence := "```"
		if strings.HasPrefix(trim, "~~~") {
			fence = "~~~"
		}
		rest := trim[len(fence):]
		// Skip optional language tag up to first newline
		idx := strings.IndexByte(rest, '\n')
		if idx == -1 {
			return "", false
		}
		rest = rest[idx+1:]
		if end := strings.Index(rest, fence); end != -1 {
			return rest[:end], true
		}
	}
	return "", false
}

// extractBalancedJSONFrom attempts to extract a balanced JSON value starting at startIdx.
// It supports objects and arrays and correctly handles strings and escape sequences.
func extractBalancedJSONFrom(s string, startIdx int) (string, bool) {
	if startIdx < 0 || startIdx >= len(s) {
		return "", false
	}
	open := s[startIdx]
	var close byte
	switch open {
	case '{':
		close = '}'
	case '[':
		close = ']'
	default:
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := startIdx; i < len(s); i++ {
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
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[startIdx : i+1], true
			}
		}
	}
	return "", false
}

// FirstInt returns the first run of decimal digits in s as an int.
// Used to pull a numeric choice or confidence out of free-form model output.
func FirstInt(s string) (int, bool) {
	start := -1
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			if start == -1 {
				start = i
			}
			continue
		}
		if start != -1 {
			break
		}
	}
	if start == -1 {
		return 0, false
	}
	end := start
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n := 0
	for _, c := range s[start:end] {
		n = n*10 + int(c-'0')
		if n > 1<<30 {
			return 0, false
		}
	}
	return n, true
}

// Package jsonx performs best-effort cleanup of LLM output into parseable
// JSON. Providers wrap JSON in prose, code fences, smart quotes, and
// trailing commas; Clean strips all of that without ever failing — only the
// final structural parse in Parse can return an error.
package jsonx

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// prosePrefixes are lead-in phrases some models emit before the JSON body.
var prosePrefixes = []string{
	"here is the json",
	"here's the json",
	"here is the requested json",
	"sure, here is the json",
}

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

var quoteReplacer = strings.NewReplacer(
	"“", `"`, // left double quotation mark
	"”", `"`, // right double quotation mark
	"‘", "'",
	"’", "'",
	"\uFEFF", "", // BOM
)

// Clean normalizes raw provider text into its best-effort JSON span. It is
// idempotent on already-clean JSON and never fails.
func Clean(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Strip known lead-in phrases.
	lower := strings.ToLower(text)
	for _, p := range prosePrefixes {
		if strings.HasPrefix(lower, p) {
			text = text[len(p):]
			text = strings.TrimLeft(text, ": \t\n\r")
			break
		}
	}

	text = quoteReplacer.Replace(text)

	// Slice from the first opening bracket to the last matching closer.
	// Pure index scan: nested-bracket correctness is intentionally ignored.
	objStart := strings.Index(text, "{")
	arrStart := strings.Index(text, "[")
	start, closer := objStart, "}"
	if objStart < 0 || (arrStart >= 0 && arrStart < objStart) {
		start, closer = arrStart, "]"
	}
	if start >= 0 {
		if end := strings.LastIndex(text, closer); end > start {
			text = text[start : end+1]
		}
	}

	text = trailingCommaRe.ReplaceAllString(text, "$1")
	text = strings.TrimSpace(text)

	return closeTruncated(text)
}

// Parse cleans text and attempts a structural parse. On failure it returns
// the cleaned span alongside the error so callers can log diagnostics.
func Parse(text string) (json.RawMessage, string, error) {
	cleaned := Clean(text)
	if cleaned == "" {
		return nil, cleaned, eris.New("jsonx: no json content found")
	}

	var raw json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, cleaned, eris.Wrap(err, "jsonx: parse")
	}
	return raw, cleaned, nil
}

// closeTruncated closes any unclosed brackets or braces left by output
// truncation (max-token cutoffs).
func closeTruncated(text string) string {
	if len(text) == 0 {
		return text
	}

	var stack []byte
	inString := false
	escape := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if escape {
			escape = false
			continue
		}
		if c == '\\' && inString {
			escape = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if inString {
		text += `"`
	}

	for i := len(stack) - 1; i >= 0; i-- {
		text = strings.TrimRight(text, " \t\n\r,")
		text += string(stack[i])
	}

	return text
}

package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
)

var (
	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
	blockCommentRe  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	unquotedKeyRe   = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)(\s*:)`)
	singleQuotedRe  = regexp.MustCompile(`'([^'"\n]*)'`)
)

// RepairStats describes what RepairJSON had to do
type RepairStats struct {
	OriginalBytes int           `json:"original_bytes"`
	RepairedBytes int           `json:"repaired_bytes"`
	CommentsLost  int           `json:"comments_lost"`
	Strategies    []string      `json:"strategies"`
	Duration      time.Duration `json:"duration"`
	WasRepaired   bool          `json:"was_repaired"`
}

// RepairJSON turns almost-JSON model output into valid JSON. Cheap textual
// fixes run first; the jsonrepair library is the fallback.
func RepairJSON(raw string) (repaired string, stats RepairStats, err error) {
	start := time.Now()
	stats.OriginalBytes = len(raw)
	defer func() {
		stats.RepairedBytes = len(repaired)
		stats.Duration = time.Since(start)
	}()

	if json.Valid([]byte(raw)) {
		return raw, stats, nil
	}

	stats.WasRepaired = true
	repaired = raw

	strategies := []struct {
		name string
		fix  func(string) string
	}{
		{"comments_removed", func(s string) string {
			cleaned, n := removeComments(s)
			stats.CommentsLost += n
			return cleaned
		}},
		{"trailing_commas", func(s string) string {
			return trailingCommaRe.ReplaceAllString(s, "$1")
		}},
		{"key_quotes", func(s string) string {
			return unquotedKeyRe.ReplaceAllString(s, `$1"$2"$3`)
		}},
		{"single_quotes", func(s string) string {
			return singleQuotedRe.ReplaceAllString(s, `"$1"`)
		}},
		{"completion", completeJSON},
	}

	// Strategies go from least to most invasive; stop at the first valid result.
	for _, strategy := range strategies {
		fixed := strategy.fix(repaired)
		if fixed == repaired {
			continue
		}
		repaired = fixed
		stats.Strategies = append(stats.Strategies, strategy.name)
		if json.Valid([]byte(repaired)) {
			return repaired, stats, nil
		}
	}

	fixed, libErr := jsonrepair.JSONRepair(repaired)
	if libErr == nil && json.Valid([]byte(fixed)) {
		repaired = fixed
		stats.Strategies = append(stats.Strategies, "jsonrepair_library")
		return repaired, stats, nil
	}

	if libErr == nil {
		libErr = fmt.Errorf("result is still not valid JSON")
	}
	return repaired, stats, fmt.Errorf("JSON repair failed after %d strategies: %w", len(stats.Strategies), libErr)
}

// removeComments strips // line comments and /* */ blocks that sit outside
// string literals, returning how many were removed.
func removeComments(s string) (string, int) {
	removed := 0

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if idx := lineCommentIndex(line); idx >= 0 {
			lines[i] = line[:idx]
			removed++
		}
	}
	s = strings.Join(lines, "\n")

	matches := blockCommentRe.FindAllStringIndex(s, -1)
	removed += len(matches)
	s = blockCommentRe.ReplaceAllString(s, "")

	return s, removed
}

// lineCommentIndex returns the offset of a // comment that is not inside a
// double-quoted string, or -1.
func lineCommentIndex(line string) int {
	inString := false
	escaped := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case c == '/' && !inString && i+1 < len(line) && line[i+1] == '/':
			return i
		}
	}
	return -1
}

// completeJSON closes objects and arrays left open by a truncated response
func completeJSON(s string) string {
	s = strings.TrimSpace(s)

	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
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
		s += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}
	return s
}

package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ErrNoJSON is returned when a model response contains no JSON at all
var ErrNoJSON = errors.New("no JSON found in model response")

// DecodeResponse extracts the JSON document from a raw model response,
// repairs it if needed and unmarshals it into target.
func DecodeResponse(raw string, target interface{}, logger zerolog.Logger) (RepairStats, error) {
	jsonStr := ExtractJSON(raw)
	if jsonStr == "" {
		logger.Warn().Str("response", truncateForLog(raw, 200)).Msg("No JSON found in model response")
		return RepairStats{}, ErrNoJSON
	}

	repaired, stats, err := RepairJSON(jsonStr)
	if err != nil {
		logger.Warn().Err(err).
			Str("original", truncateForLog(jsonStr, 500)).
			Str("repaired", truncateForLog(repaired, 500)).
			Msg("JSON repair failed")
		return stats, err
	}

	if stats.WasRepaired {
		logger.Info().
			Strs("strategies", stats.Strategies).
			Int("comments_lost", stats.CommentsLost).
			Int("original_bytes", stats.OriginalBytes).
			Int("repaired_bytes", stats.RepairedBytes).
			Dur("repair_time", stats.Duration).
			Msg("Repaired model JSON")
	}

	if err := json.Unmarshal([]byte(repaired), target); err != nil {
		logger.Warn().Err(err).Str("json", truncateForLog(repaired, 500)).Msg("JSON decoding failed after repair")
		return stats, fmt.Errorf("decode model JSON: %w", err)
	}

	return stats, nil
}

// ExtractJSON pulls the JSON document out of a response that may wrap it in
// a markdown code fence or surround it with prose.
func ExtractJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		return raw
	}

	if strings.Contains(raw, "```") {
		var jsonLines []string
		inCodeBlock := false
		for _, line := range strings.Split(raw, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				if inCodeBlock && len(jsonLines) > 0 {
					break
				}
				inCodeBlock = !inCodeBlock
				continue
			}
			if inCodeBlock {
				jsonLines = append(jsonLines, line)
			}
		}
		if block := strings.TrimSpace(strings.Join(jsonLines, "\n")); block != "" {
			return block
		}
	}

	startIdx := strings.IndexAny(raw, "{[")
	if startIdx == -1 {
		return ""
	}

	openChar := raw[startIdx]
	closeChar := byte('}')
	if openChar == '[' {
		closeChar = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := startIdx; i < len(raw); i++ {
		c := raw[i]
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
		case openChar:
			depth++
		case closeChar:
			depth--
			if depth == 0 {
				return raw[startIdx : i+1]
			}
		}
	}

	// Unbalanced: hand the tail to the repairer.
	return raw[startIdx:]
}

func truncateForLog(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}

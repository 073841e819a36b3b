// Command debug_json_repair runs a saved model response through the same
// extraction, repair and decoding steps the analyzer uses.
//
//	go run ./debug response.txt
//	pbpaste | go run ./debug
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pranalysis/internal/llm"
	"github.com/pranalysis/pkg/models"
)

const sampleResponse = "Here is the review:\n```json\n" + `{
	// model commentary that breaks strict JSON
	files: [
		{'name': 'main.go', 'issues': [{'type': 'bug', 'line': 10, 'description': 'x', 'suggestion': 'y'},]},
	],
	"summary": {"total_files": 1, "total_issues": 1, "critical_issues": 0`

func main() {
	raw, err := readInput()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	fmt.Println("Original:")
	fmt.Println(raw)
	fmt.Println("\n" + strings.Repeat("=", 50))

	extracted := llm.ExtractJSON(raw)
	repaired, stats, err := llm.RepairJSON(extracted)
	fmt.Printf("Repaired (error: %v):\n", err)
	fmt.Println(repaired)
	fmt.Println("\n" + strings.Repeat("=", 50))
	fmt.Printf("Stats: %+v\n", stats)

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	var report models.AnalysisReport
	if _, err := llm.DecodeResponse(raw, &report, logger); err != nil {
		fmt.Printf("Decode error: %v\n", err)
		os.Exit(1)
	}

	report.Normalize()
	fmt.Printf("Validation error: %v\n", report.Validate())

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
}

func readInput() (string, error) {
	if len(os.Args) > 1 {
		b, err := os.ReadFile(os.Args[1])
		return string(b), err
	}
	if info, err := os.Stdin.Stat(); err == nil && info.Mode()&os.ModeCharDevice == 0 {
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	return sampleResponse, nil
}

package analyzer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pranalysis/pkg/models"
)

const (
	reviewerRole = "Senior Code Quality Analyst"

	reviewerGoal = "Ensure all submitted code adheres to the highest standards by identifying style " +
		"inconsistencies, detecting bugs, recommending performance optimizations, and promoting best " +
		"practices throughout the development process."

	reviewerBackstory = "Once a celebrated senior code quality analyst, you became known for relentless " +
		"attention to detail and a passion for elevating software standards. You have seen overlooked bugs, " +
		"inconsistent styles and neglected best practices jeopardize entire projects, so you scrutinize every " +
		"codebase and hunt for issues before they escalate."

	taskDescription = "Analyse submitted GitHub Pull Request diffs converted to JSON for all possible issues."

	taskExpectedOutput = "Analyse diffs for code style and formatting issues, potential bugs or errors, " +
		"performance improvements and best practices."
)

// responseSchema is the JSON shape the model must answer with
const responseSchema = `{
  "files": [
    {
      "name": "path/to/file.ext",
      "issues": [
        {
          "type": "bug|style|performance|best_practice|critical",
          "line": 42,
          "description": "Description of the issue",
          "suggestion": "Suggested fix"
        }
      ]
    }
  ],
  "summary": {
    "total_files": 1,
    "total_issues": 1,
    "critical_issues": 0
  }
}`

// BuildPrompt renders the review prompt for a structured diff
func BuildPrompt(structured models.StructuredDiff) (string, error) {
	diffJSON, err := json.MarshalIndent(structured, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode structured diff: %w", err)
	}

	var prompt strings.Builder

	prompt.WriteString(fmt.Sprintf("You are a %s.\n", reviewerRole))
	prompt.WriteString("Goal: " + reviewerGoal + "\n")
	prompt.WriteString(reviewerBackstory + "\n\n")

	prompt.WriteString("TASK:\n")
	prompt.WriteString(taskDescription + "\n")
	prompt.WriteString(taskExpectedOutput + "\n\n")

	prompt.WriteString("LINE NUMBERS:\n")
	prompt.WriteString("- Every line carries source_line_no (old file) and target_line_no (new file)\n")
	prompt.WriteString("- For added and context lines report target_line_no\n")
	prompt.WriteString("- For removed lines report source_line_no\n")
	prompt.WriteString("- Use \"critical\" as the issue type only for defects that must block the merge\n\n")

	prompt.WriteString("Respond with JSON only, using exactly this structure:\n")
	prompt.WriteString("```json\n")
	prompt.WriteString(responseSchema)
	prompt.WriteString("\n```\n\n")

	prompt.WriteString("Here are the json converted diffs:\n")
	prompt.WriteString("```json\n")
	prompt.Write(diffJSON)
	prompt.WriteString("\n```\n")

	return prompt.String(), nil
}

package diff

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"

	"github.com/pranalysis/pkg/models"
)

const gitHeaderPrefix = "diff --git "

var (
	// @@ -a[,b] +c[,d] @@ [section]
	hunkHeaderRe = regexp.MustCompile(`^@@ -\d+(?:,(\d+))? \+\d+(?:,(\d+))? @@`)

	errNoFileHeader = errors.New("no file header found in section")
	errMissingPath  = errors.New("file header has no usable path")
)

// FormatError is returned when a file section of a diff can not be parsed.
// Section holds the raw text of the offending section.
type FormatError struct {
	Section string
	Err     error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed diff section %q: %v", firstLine(e.Section), e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// Parser turns unified diff text into a models.StructuredDiff
type Parser struct{}

// NewParser creates a new diff parser
func NewParser() *Parser {
	return &Parser{}
}

// Parse converts the diff text into one FileChange per non-binary file, in
// input order. Either every section parses or an error is returned; partial
// results are never produced.
func (p *Parser) Parse(diffText string) (models.StructuredDiff, error) {
	result := models.StructuredDiff{}
	if strings.TrimSpace(diffText) == "" {
		return result, nil
	}

	for _, section := range p.splitDiffByFile(diffText) {
		files, err := p.parseSection(section)
		if err != nil {
			return nil, err
		}
		result = append(result, files...)
	}

	return result, nil
}

// splitDiffByFile cuts the diff into per-file sections. Git diffs are cut at
// "diff --git" lines; plain unified diffs at ---/+++ header pairs that are
// not part of a hunk body. Text before the first section is dropped.
func (p *Parser) splitDiffByFile(diffText string) []string {
	lines := strings.SplitAfter(diffText, "\n")

	isGit := false
	for _, line := range lines {
		if strings.HasPrefix(line, gitHeaderPrefix) {
			isGit = true
			break
		}
	}

	var (
		sections []string
		current  strings.Builder
		started  bool
		oldLeft  int
		newLeft  int
	)

	flush := func() {
		if started && current.Len() > 0 {
			sections = append(sections, current.String())
		}
		current.Reset()
	}

	for i, line := range lines {
		if !isGit && (oldLeft > 0 || newLeft > 0) {
			switch {
			case strings.HasPrefix(line, "+"):
				newLeft--
			case strings.HasPrefix(line, "-"):
				oldLeft--
			case strings.HasPrefix(line, `\`):
			default:
				oldLeft--
				newLeft--
			}
			current.WriteString(line)
			continue
		}

		if isGit {
			if strings.HasPrefix(line, gitHeaderPrefix) {
				flush()
				started = true
			}
		} else {
			if strings.HasPrefix(line, "--- ") && i+1 < len(lines) && strings.HasPrefix(lines[i+1], "+++ ") {
				flush()
				started = true
			}
			if m := hunkHeaderRe.FindStringSubmatch(line); m != nil {
				oldLeft = rangeCount(m[1])
				newLeft = rangeCount(m[2])
			}
		}

		if started {
			current.WriteString(line)
		}
	}
	flush()

	return sections
}

// parseSection parses a single file section
func (p *Parser) parseSection(section string) ([]models.FileChange, error) {
	files, _, err := gitdiff.Parse(strings.NewReader(section))
	if err != nil {
		return nil, &FormatError{Section: section, Err: err}
	}
	if len(files) == 0 {
		return nil, &FormatError{Section: section, Err: errNoFileHeader}
	}

	traditional := !strings.HasPrefix(section, gitHeaderPrefix)

	result := make([]models.FileChange, 0, len(files))
	for _, f := range files {
		if f.IsBinary {
			continue
		}

		source, target := f.OldName, f.NewName
		if traditional {
			source, target = traditionalPaths(section)
		}

		fileChange, err := convertFile(f, source, target)
		if err != nil {
			return nil, &FormatError{Section: section, Err: err}
		}
		result = append(result, fileChange)
	}

	return result, nil
}

func convertFile(f *gitdiff.File, source, target string) (models.FileChange, error) {
	// New and deleted files carry their single real path on both sides.
	// Copies are reported as new files.
	isNew := f.IsNew || f.IsCopy
	switch {
	case isNew:
		source = target
	case f.IsDelete:
		target = source
	}
	if source == "" || target == "" {
		return models.FileChange{}, errMissingPath
	}

	fc := models.FileChange{
		SourcePath: source,
		TargetPath: target,
		IsNew:      isNew,
		IsDeleted:  f.IsDelete,
		IsRenamed:  f.IsRename && source != target,
		Hunks:      make([]models.Hunk, 0, len(f.TextFragments)),
	}

	for _, frag := range f.TextFragments {
		fc.Hunks = append(fc.Hunks, convertFragment(frag))
	}

	return fc, nil
}

func convertFragment(frag *gitdiff.TextFragment) models.Hunk {
	hunk := models.Hunk{
		Header: strings.TrimSpace(frag.Comment),
		Lines:  make([]models.ChangeLine, 0, len(frag.Lines)),
	}

	sourceLine := int(frag.OldPosition)
	targetLine := int(frag.NewPosition)

	for _, l := range frag.Lines {
		line := models.ChangeLine{
			Content: strings.TrimSuffix(l.Line, "\n"),
		}

		switch l.Op {
		case gitdiff.OpContext:
			line.Kind = models.ChangeContext
			line.SourceLineNo = lineNo(sourceLine)
			line.TargetLineNo = lineNo(targetLine)
			sourceLine++
			targetLine++
		case gitdiff.OpAdd:
			line.Kind = models.ChangeAdded
			line.TargetLineNo = lineNo(targetLine)
			targetLine++
		case gitdiff.OpDelete:
			line.Kind = models.ChangeRemoved
			line.SourceLineNo = lineNo(sourceLine)
			sourceLine++
		}

		hunk.Lines = append(hunk.Lines, line)
	}

	return hunk
}

func lineNo(n int) *int {
	return &n
}

// rangeCount returns the line count of a hunk range; an omitted count means 1
func rangeCount(s string) int {
	if s == "" {
		return 1
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// traditionalPaths reads the source and target paths from the ---/+++ header
// of a plain unified diff section. /dev/null yields an empty path.
func traditionalPaths(section string) (source, target string) {
	lines := strings.SplitN(section, "\n", 3)
	if len(lines) < 2 {
		return "", ""
	}
	return headerPath(lines[0], "--- "), headerPath(lines[1], "+++ ")
}

// headerPath drops the marker, any tab separated timestamp and the a/ or b/
// prefix from one file header line.
func headerPath(line, marker string) string {
	name := strings.TrimPrefix(strings.TrimSuffix(line, "\r"), marker)
	if i := strings.IndexByte(name, '\t'); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimSpace(name)
	if name == "/dev/null" {
		return ""
	}
	for _, prefix := range []string{"a/", "b/"} {
		if strings.HasPrefix(name, prefix) {
			return name[len(prefix):]
		}
	}
	return name
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

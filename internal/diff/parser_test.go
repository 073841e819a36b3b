package diff

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pranalysis/pkg/models"
)

const modifiedFileDiff = `diff --git a/main.go b/main.go
index 1111111..2222222 100644
--- a/main.go
+++ b/main.go
@@ -10,3 +10,3 @@ func main() {
-	fmt.Println("hello")
+	fmt.Println("hello, world")
 	os.Exit(0)
 }
`

const binaryFileDiff = `diff --git a/logo.png b/logo.png
index 3333333..4444444 100644
Binary files a/logo.png and b/logo.png differ
`

const newFileDiff = `diff --git a/docs/new.md b/docs/new.md
new file mode 100644
index 0000000..5555555
--- /dev/null
+++ b/docs/new.md
@@ -0,0 +1,2 @@
+# Title
+body
`

const deletedFileDiff = `diff --git a/old.txt b/old.txt
deleted file mode 100644
index 6666666..0000000
--- a/old.txt
+++ /dev/null
@@ -1,2 +0,0 @@
-line one
-line two
`

const renamedFileDiff = `diff --git a/pkg/a.go b/pkg/b.go
similarity index 100%
rename from pkg/a.go
rename to pkg/b.go
`

const miscountedDiff = `diff --git a/x.go b/x.go
index 7777777..8888888 100644
--- a/x.go
+++ b/x.go
@@ -1,5 +1,5 @@
 only one line
`

func ptr(n int) *int {
	return &n
}

func TestParseModifiedFile(t *testing.T) {
	got, err := NewParser().Parse(modifiedFileDiff)
	require.NoError(t, err)

	want := models.StructuredDiff{
		{
			SourcePath: "main.go",
			TargetPath: "main.go",
			Hunks: []models.Hunk{
				{
					Header: "func main() {",
					Lines: []models.ChangeLine{
						{Kind: models.ChangeRemoved, Content: "\tfmt.Println(\"hello\")", SourceLineNo: ptr(10)},
						{Kind: models.ChangeAdded, Content: "\tfmt.Println(\"hello, world\")", TargetLineNo: ptr(10)},
						{Kind: models.ChangeContext, Content: "\tos.Exit(0)", SourceLineNo: ptr(11), TargetLineNo: ptr(11)},
						{Kind: models.ChangeContext, Content: "}", SourceLineNo: ptr(12), TargetLineNo: ptr(12)},
					},
				},
			},
		},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseEmptyInput(t *testing.T) {
	for _, input := range []string{"", "\n", "   \n\t\n"} {
		got, err := NewParser().Parse(input)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	}
}

func TestParseBinaryOnlyDiffIsEmpty(t *testing.T) {
	got, err := NewParser().Parse(binaryFileDiff)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParseFileKinds(t *testing.T) {
	input := newFileDiff + deletedFileDiff + renamedFileDiff
	got, err := NewParser().Parse(input)
	require.NoError(t, err)
	require.Len(t, got, 3)

	newFile := got[0]
	assert.True(t, newFile.IsNew)
	assert.False(t, newFile.IsDeleted)
	assert.False(t, newFile.IsRenamed)
	assert.Equal(t, "docs/new.md", newFile.SourcePath)
	assert.Equal(t, "docs/new.md", newFile.TargetPath)
	require.Len(t, newFile.Hunks, 1)
	for i, line := range newFile.Hunks[0].Lines {
		assert.Equal(t, models.ChangeAdded, line.Kind)
		assert.Nil(t, line.SourceLineNo)
		require.NotNil(t, line.TargetLineNo)
		assert.Equal(t, i+1, *line.TargetLineNo)
	}

	deleted := got[1]
	assert.True(t, deleted.IsDeleted)
	assert.False(t, deleted.IsNew)
	assert.Equal(t, "old.txt", deleted.SourcePath)
	assert.Equal(t, "old.txt", deleted.TargetPath)
	require.Len(t, deleted.Hunks, 1)
	for i, line := range deleted.Hunks[0].Lines {
		assert.Equal(t, models.ChangeRemoved, line.Kind)
		assert.Nil(t, line.TargetLineNo)
		require.NotNil(t, line.SourceLineNo)
		assert.Equal(t, i+1, *line.SourceLineNo)
	}

	renamed := got[2]
	assert.True(t, renamed.IsRenamed)
	assert.Equal(t, "pkg/a.go", renamed.SourcePath)
	assert.Equal(t, "pkg/b.go", renamed.TargetPath)
	assert.Empty(t, renamed.Hunks)
}

func TestParseKeepsSectionOrderAndSkipsBinaries(t *testing.T) {
	const n = 6

	var sb strings.Builder
	var wantPaths []string
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("file%d.txt", i)
		wantPaths = append(wantPaths, name)
		fmt.Fprintf(&sb, "diff --git a/%[1]s b/%[1]s\n--- a/%[1]s\n+++ b/%[1]s\n@@ -1 +1 @@\n-old %[2]d\n+new %[2]d\n", name, i)
		if i%2 == 0 {
			sb.WriteString(binaryFileDiff)
		}
	}

	got, err := NewParser().Parse(sb.String())
	require.NoError(t, err)
	require.Len(t, got, n)

	for i, fc := range got {
		assert.Equal(t, wantPaths[i], fc.TargetPath)
		added, removed := fc.Stats()
		assert.Equal(t, 1, added)
		assert.Equal(t, 1, removed)
	}
}

func TestParseLineNumbersAdvanceWithGaps(t *testing.T) {
	input := `diff --git a/list.txt b/list.txt
--- a/list.txt
+++ b/list.txt
@@ -3,4 +3,5 @@ header one
 c
-d
+D
+E
 f
 g
@@ -20,3 +21,2 @@ header two
 t
-u
 v
`
	got, err := NewParser().Parse(input)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0].Hunks, 2)

	for _, hunk := range got[0].Hunks {
		lastSource, lastTarget := 0, 0
		for _, line := range hunk.Lines {
			if line.SourceLineNo != nil {
				assert.Greater(t, *line.SourceLineNo, lastSource)
				lastSource = *line.SourceLineNo
			}
			if line.TargetLineNo != nil {
				assert.Greater(t, *line.TargetLineNo, lastTarget)
				lastTarget = *line.TargetLineNo
			}
		}
	}

	second := got[0].Hunks[1]
	assert.Equal(t, "header two", second.Header)
	require.Len(t, second.Lines, 3)
	assert.Equal(t, 20, *second.Lines[0].SourceLineNo)
	assert.Equal(t, 21, *second.Lines[0].TargetLineNo)
	assert.Equal(t, 21, *second.Lines[1].SourceLineNo)
	assert.Equal(t, 22, *second.Lines[2].SourceLineNo)
	assert.Equal(t, 22, *second.Lines[2].TargetLineNo)
}

func TestParseContentRoundTrips(t *testing.T) {
	body := "-\tfmt.Println(\"hello\")\n+\tfmt.Println(\"hello, world\")\n \tos.Exit(0)\n }\n"

	got, err := NewParser().Parse(modifiedFileDiff)
	require.NoError(t, err)
	require.Len(t, got, 1)

	prefixes := map[models.ChangeKind]string{
		models.ChangeAdded:   "+",
		models.ChangeRemoved: "-",
		models.ChangeContext: " ",
	}

	var sb strings.Builder
	for _, line := range got[0].Hunks[0].Lines {
		sb.WriteString(prefixes[line.Kind] + line.Content + "\n")
	}
	assert.Equal(t, body, sb.String())
}

func TestParseNoNewlineMarker(t *testing.T) {
	input := `diff --git a/eof.txt b/eof.txt
--- a/eof.txt
+++ b/eof.txt
@@ -1 +1 @@
-old
\ No newline at end of file
+new
\ No newline at end of file
`
	got, err := NewParser().Parse(input)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0].Hunks, 1)

	lines := got[0].Hunks[0].Lines
	require.Len(t, lines, 2)
	assert.Equal(t, "old", lines[0].Content)
	assert.Equal(t, "new", lines[1].Content)
}

func TestParseModeChangeHasNoHunks(t *testing.T) {
	input := `diff --git a/run.sh b/run.sh
old mode 100644
new mode 100755
`
	got, err := NewParser().Parse(input)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "run.sh", got[0].SourcePath)
	assert.False(t, got[0].IsRenamed)
	assert.Empty(t, got[0].Hunks)
}

func TestParseTraditionalDiff(t *testing.T) {
	// The first hunk removes a line starting with "-- " and adds one
	// starting with "++ "; neither may be mistaken for a file header.
	input := `--- a/docs/notes.txt
+++ b/docs/notes.txt
@@ -1,2 +1,2 @@
--- old heading
+++ new heading
 tail
--- a/docs/other.txt
+++ b/docs/other.txt
@@ -1 +1 @@
-x
+y
`
	got, err := NewParser().Parse(input)
	require.NoError(t, err)
	require.Len(t, got, 2)

	for i, path := range []string{"docs/notes.txt", "docs/other.txt"} {
		assert.Equal(t, path, got[i].SourcePath)
		assert.Equal(t, path, got[i].TargetPath)
		assert.False(t, got[i].IsRenamed)
	}
	require.Len(t, got[0].Hunks, 1)
	lines := got[0].Hunks[0].Lines
	require.Len(t, lines, 3)
	assert.Equal(t, models.ChangeRemoved, lines[0].Kind)
	assert.Equal(t, "-- old heading", lines[0].Content)
	assert.Equal(t, models.ChangeAdded, lines[1].Kind)
	assert.Equal(t, "++ new heading", lines[1].Content)
}

func TestParseTraditionalHeaders(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    models.FileChange
		added   int
		removed int
	}{
		{
			name:  "prefixed paths",
			input: "--- a/x\n+++ b/x\n@@ -1 +1 @@\n-a\n+b\n",
			want:  models.FileChange{SourcePath: "x", TargetPath: "x"},
			added: 1, removed: 1,
		},
		{
			name:  "timestamps",
			input: "--- cfg/app.toml\t2024-03-01 10:00:00.000000000 +0000\n+++ cfg/app.toml\t2024-03-02 09:30:00.000000000 +0000\n@@ -1 +1 @@\n-port = 80\n+port = 8080\n",
			want:  models.FileChange{SourcePath: "cfg/app.toml", TargetPath: "cfg/app.toml"},
			added: 1, removed: 1,
		},
		{
			name:  "new file",
			input: "--- /dev/null\n+++ b/cmd/main.go\n@@ -0,0 +1,2 @@\n+package main\n+\n",
			want:  models.FileChange{SourcePath: "cmd/main.go", TargetPath: "cmd/main.go", IsNew: true},
			added: 2,
		},
		{
			name:    "deleted file",
			input:   "--- a/old.go\n+++ /dev/null\n@@ -1 +0,0 @@\n-package old\n",
			want:    models.FileChange{SourcePath: "old.go", TargetPath: "old.go", IsDeleted: true},
			removed: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewParser().Parse(tt.input)
			require.NoError(t, err)
			require.Len(t, got, 1)

			fc := got[0]
			assert.Equal(t, tt.want.SourcePath, fc.SourcePath)
			assert.Equal(t, tt.want.TargetPath, fc.TargetPath)
			assert.Equal(t, tt.want.IsNew, fc.IsNew)
			assert.Equal(t, tt.want.IsDeleted, fc.IsDeleted)
			assert.False(t, fc.IsRenamed)

			added, removed := fc.Stats()
			assert.Equal(t, tt.added, added)
			assert.Equal(t, tt.removed, removed)
		})
	}
}

func TestParseRenameNeedsMarker(t *testing.T) {
	input := `diff --git a/x b/y
--- a/x
+++ b/y
@@ -1 +1 @@
-a
+b
`
	got, err := NewParser().Parse(input)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].SourcePath)
	assert.Equal(t, "y", got[0].TargetPath)
	assert.False(t, got[0].IsRenamed)
}

func TestParseMalformedSection(t *testing.T) {
	got, err := NewParser().Parse(modifiedFileDiff + miscountedDiff)
	require.Error(t, err)
	assert.Nil(t, got)

	var formatErr *FormatError
	require.True(t, errors.As(err, &formatErr))
	assert.Equal(t, miscountedDiff, formatErr.Section)
	assert.Contains(t, err.Error(), "diff --git a/x.go b/x.go")
}

func TestSplitDiffByFileDropsPreamble(t *testing.T) {
	input := "From: someone\nSubject: change\n\n" + modifiedFileDiff + newFileDiff

	sections := NewParser().splitDiffByFile(input)
	require.Len(t, sections, 2)
	assert.Equal(t, modifiedFileDiff, sections[0])
	assert.Equal(t, newFileDiff, sections[1])
}

package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pranalysis/internal/diff"
)

func TestPrintStat(t *testing.T) {
	input := `diff --git a/main.go b/main.go
--- a/main.go
+++ b/main.go
@@ -1,2 +1,3 @@
 package main
-var x = 1
+var x = 2
+var y = 3
diff --git a/docs/old.md b/docs/new.md
similarity index 100%
rename from docs/old.md
rename to docs/new.md
diff --git a/gone.txt b/gone.txt
deleted file mode 100644
--- a/gone.txt
+++ /dev/null
@@ -1 +0,0 @@
-bye
`
	structured, err := diff.NewParser().Parse(input)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, printStat(&buf, structured))

	assert.Equal(t, "main.go | +2 -1\n"+
		"docs/old.md => docs/new.md | +0 -0\n"+
		"gone.txt (deleted) | +0 -1\n"+
		"3 files changed, 2 insertions(+), 2 deletions(-)\n", buf.String())
}

package diffx_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/ai-pr-reviewer/pkg/diffx"
)

const samplePatch = `@@ -1,4 +1,6 @@
 import os
+def helper(x):
+    return x * 2
-def old_helper(x):
-    return x
 print("done")`

func TestCountChanges(t *testing.T) {
	t.Parallel()
	added, removed := diffx.CountChanges(samplePatch)
	assert.Equal(t, 2, added)
	assert.Equal(t, 2, removed)
}

func TestCountChangesIgnoresFileHeaders(t *testing.T) {
	t.Parallel()
	patch := "--- a/f.py\n+++ b/f.py\n+x = 1\n"
	added, removed := diffx.CountChanges(patch)
	assert.Equal(t, 1, added)
	assert.Equal(t, 0, removed)
}

func TestChangedContent(t *testing.T) {
	t.Parallel()
	got := diffx.ChangedContent(samplePatch)
	assert.Equal(t, "def helper(x):\n    return x * 2", got)
}

func TestAnalyzeImpactEmptyPatch(t *testing.T) {
	t.Parallel()
	imp := diffx.AnalyzeImpact("a.py", "modified", "", 0, 0)
	assert.Equal(t, 0, imp.Score)
	assert.Equal(t, "low", imp.RiskLevel)
	assert.Equal(t, "no_changes", imp.ChangeType)
}

func TestAnalyzeImpactScoresSourceHigher(t *testing.T) {
	t.Parallel()
	src := diffx.AnalyzeImpact("a.py", "modified", samplePatch, 2, 2)
	doc := diffx.AnalyzeImpact("a.md", "modified", samplePatch, 2, 2)
	assert.Greater(t, src.Score, doc.Score)
	assert.Contains(t, src.AffectedFunctions, "helper")
	assert.Contains(t, src.AffectedFunctions, "old_helper")
}

func TestAnalyzeImpactRiskLevels(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		filename string
		status   string
		want     string
	}{
		{"test file stays low", "pkg/foo_test.py", "modified", "low"},
		{"config file escalates", "config/settings.py", "modified", "medium"},
		{"removed file escalates", "a.py", "removed", "medium"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			imp := diffx.AnalyzeImpact(tc.filename, tc.status, "+x = 1\n", 1, 0)
			assert.Equal(t, tc.want, imp.RiskLevel)
		})
	}
}

func TestAnalyzeImpactChangeType(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "new_file", diffx.AnalyzeImpact("a.py", "added", "+x\n", 1, 0).ChangeType)
	assert.Equal(t, "deleted_file", diffx.AnalyzeImpact("a.py", "removed", "-x\n", 0, 1).ChangeType)
	assert.Equal(t, "additions_only", diffx.AnalyzeImpact("a.py", "modified", "+x\n", 1, 0).ChangeType)
	assert.Equal(t, "deletions_only", diffx.AnalyzeImpact("a.py", "modified", "-x\n", 0, 1).ChangeType)
	assert.Equal(t, "mostly_additions", diffx.AnalyzeImpact("a.py", "modified", "+x\n", 10, 2).ChangeType)
	assert.Equal(t, "mixed_changes", diffx.AnalyzeImpact("a.py", "modified", "+x\n-y\n", 3, 2).ChangeType)
}

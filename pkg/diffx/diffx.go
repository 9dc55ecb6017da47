// Package diffx provides unified-diff helpers used by the analysis pipeline.
package diffx

import (
	"regexp"
	"strings"
)

// Impact summarizes the blast radius of one file's patch.
type Impact struct {
	Score             int
	RiskLevel         string
	ChangeType        string
	AffectedFunctions []string
	LinesAdded        int
	LinesRemoved      int
	NetLines          int
}

var (
	pyFuncRe = regexp.MustCompile(`def\s+(\w+)`)
	jsFuncRe = regexp.MustCompile(`function\s+(\w+)`)
	classRe  = regexp.MustCompile(`class\s+(\w+)`)
)

func extractFunctionName(line string) string {
	if m := pyFuncRe.FindStringSubmatch(line); m != nil {
		return m[1]
	}
	if m := jsFuncRe.FindStringSubmatch(line); m != nil {
		return m[1]
	}
	if m := classRe.FindStringSubmatch(line); m != nil {
		return m[1]
	}
	return "unknown"
}

// CountChanges returns the number of added and removed lines in a patch,
// excluding the +++/--- file headers.
func CountChanges(patch string) (added, removed int) {
	for _, line := range strings.Split(patch, "\n") {
		switch {
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			added++
		case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
			removed++
		}
	}
	return added, removed
}

// ChangedContent returns the added lines of a patch joined as a snippet.
func ChangedContent(patch string) string {
	var out []string
	for _, line := range strings.Split(patch, "\n") {
		if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
			out = append(out, line[1:])
		}
	}
	return strings.Join(out, "\n")
}

func isDefinitionLine(line string) bool {
	return strings.Contains(line, "def ") || strings.Contains(line, "function ") || strings.Contains(line, "class ")
}

func hasAnySuffix(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// AnalyzeImpact scores the patch of one changed file. An empty patch yields a
// zero-impact, low-risk result.
func AnalyzeImpact(filename, status, patch string, additions, deletions int) Impact {
	if patch == "" {
		return Impact{Score: 0, RiskLevel: "low", ChangeType: "no_changes", AffectedFunctions: []string{}}
	}

	var added, removed int
	funcs := map[string]struct{}{}
	for _, line := range strings.Split(patch, "\n") {
		switch {
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			added++
			if isDefinitionLine(line) {
				funcs[extractFunctionName(line)] = struct{}{}
			}
		case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
			removed++
			if isDefinitionLine(line) {
				funcs[extractFunctionName(line)] = struct{}{}
			}
		}
	}

	score := impactScore(added, removed, len(funcs), filename)
	names := make([]string, 0, len(funcs))
	for name := range funcs {
		names = append(names, name)
	}

	return Impact{
		Score:             score,
		RiskLevel:         riskLevel(score, filename, status),
		ChangeType:        changeType(status, additions, deletions),
		AffectedFunctions: names,
		LinesAdded:        added,
		LinesRemoved:      removed,
		NetLines:          added - removed,
	}
}

func impactScore(added, removed, modifiedFuncs int, filename string) int {
	score := float64((added+removed)*2 + modifiedFuncs*10)
	if hasAnySuffix(filename, ".py", ".js", ".ts", ".java") {
		score *= 1.2
	} else if hasAnySuffix(filename, ".md", ".txt", ".json") {
		score *= 0.5
	}
	if score > 100 {
		return 100
	}
	return int(score)
}

func riskLevel(score int, filename, status string) string {
	base := "low"
	if score >= 70 {
		base = "high"
	} else if score >= 35 {
		base = "medium"
	}

	switch status {
	case "added":
		if score < 50 {
			return "low"
		}
	case "removed":
		if base == "low" {
			return "medium"
		}
		return "high"
	}

	lower := strings.ToLower(filename)
	if containsAny(lower, "test", "spec", "mock") {
		if base == "high" {
			return "medium"
		}
		return "low"
	}
	if containsAny(lower, "config", "setting", "env") {
		if base == "low" {
			return "medium"
		}
		return "high"
	}
	return base
}

func changeType(status string, additions, deletions int) string {
	switch status {
	case "added":
		return "new_file"
	case "removed":
		return "deleted_file"
	case "renamed":
		return "renamed_file"
	}
	switch {
	case deletions == 0:
		return "additions_only"
	case additions == 0:
		return "deletions_only"
	case additions > deletions*3:
		return "mostly_additions"
	case deletions > additions*3:
		return "mostly_deletions"
	default:
		return "mixed_changes"
	}
}

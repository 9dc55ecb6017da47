package analyzer

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var extLanguages = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".rb":    "ruby",
	".rs":    "rust",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".php":   "php",
	".swift": "swift",
	".kt":    "kotlin",
	".scala": "scala",
	".sh":    "shell",
	".bash":  "shell",
	".sql":   "sql",
	".html":  "html",
	".css":   "css",
	".scss":  "css",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".md":    "markdown",
	".proto": "protobuf",
	".tf":    "terraform",
}

// DetectLanguage maps a file path to a language name, falling back to a
// content sniff for extensionless files.
func DetectLanguage(path, content string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := extLanguages[ext]; ok {
		return lang
	}
	if content == "" {
		return "unknown"
	}
	mt := mimetype.Detect([]byte(content))
	switch {
	case mt.Is("text/x-shellscript"):
		return "shell"
	case mt.Is("text/html"):
		return "html"
	case mt.Is("application/json"):
		return "json"
	case strings.HasPrefix(mt.String(), "text/"):
		return "text"
	default:
		return "unknown"
	}
}

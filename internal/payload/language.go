package payload

import (
	"path/filepath"
	"strings"
)

// languageByExtension maps file extensions to the backend's language
// identifiers. The dominant language among admitted files decides which
// detector set the backend runs.
var languageByExtension = map[string]string{
	".java":   "java",
	".py":     "python",
	".js":     "javascript",
	".jsx":    "javascript",
	".ts":     "typescript",
	".tsx":    "typescript",
	".go":     "go",
	".rb":     "ruby",
	".php":    "php",
	".cs":     "csharp",
	".c":      "c",
	".h":      "c",
	".cpp":    "cpp",
	".hpp":    "cpp",
	".rs":     "rust",
	".kt":     "kotlin",
	".scala":  "scala",
	".sh":     "shell",
	".tf":     "terraform",
	".hcl":    "terraform",
	".tfvars": "terraform",
	".yaml":   "yaml",
	".yml":    "yaml",
	".json":   "json",
}

// languageOf returns the backend language identifier for a path, or "" for
// unrecognized extensions.
func languageOf(path string) string {
	return languageByExtension[strings.ToLower(filepath.Ext(path))]
}

// languageTally counts admitted files per language, preserving first
// encounter order so ties resolve deterministically for a fixed input
// ordering.
type languageTally struct {
	counts map[string]int
	order  []string
}

func newLanguageTally() *languageTally {
	return &languageTally{counts: make(map[string]int)}
}

func (lt *languageTally) add(lang string) {
	if lang == "" {
		return
	}
	if _, seen := lt.counts[lang]; !seen {
		lt.order = append(lt.order, lang)
	}
	lt.counts[lang]++
}

// dominant returns the most frequent language; ties break toward the
// earliest encountered. Empty when nothing recognized was tallied.
func (lt *languageTally) dominant() string {
	best := ""
	bestCount := 0
	for _, lang := range lt.order {
		if lt.counts[lang] > bestCount {
			best = lang
			bestCount = lt.counts[lang]
		}
	}
	return best
}

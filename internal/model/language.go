package model

import (
	"sort"
	"strings"
)

// DefaultLanguage is used for new rooms and for files created without one.
const DefaultLanguage = "javascript"

// Language describes one runtime the editor can switch to and execute.
// Version is the default runtime version sent to the execution backend
// when a compileCode request does not name one.
type Language struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// languages is the supported set. Versions match the runtimes published by
// a stock Piston installation.
var languages = map[string]Language{
	"javascript": {Name: "javascript", Version: "18.15.0"},
	"typescript": {Name: "typescript", Version: "5.0.3"},
	"python":     {Name: "python", Version: "3.10.0"},
	"java":       {Name: "java", Version: "15.0.2"},
	"c":          {Name: "c", Version: "10.2.0"},
	"cpp":        {Name: "cpp", Version: "10.2.0"},
	"go":         {Name: "go", Version: "1.16.2"},
	"rust":       {Name: "rust", Version: "1.68.2"},
	"ruby":       {Name: "ruby", Version: "3.0.1"},
	"php":        {Name: "php", Version: "8.2.3"},
	"csharp":     {Name: "csharp", Version: "6.12.0"},
}

// NormalizeLanguage lowercases and trims a client-supplied language name.
func NormalizeLanguage(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// LookupLanguage returns the supported language with the given name.
func LookupLanguage(name string) (Language, bool) {
	l, ok := languages[NormalizeLanguage(name)]
	return l, ok
}

// IsSupportedLanguage reports whether name is in the supported set.
func IsSupportedLanguage(name string) bool {
	_, ok := LookupLanguage(name)
	return ok
}

// Languages returns the supported set sorted by name.
func Languages() []Language {
	out := make([]Language, 0, len(languages))
	for _, l := range languages {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

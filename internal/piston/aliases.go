package piston

import "strings"

// Language is a canonical backend language with its pinned version.
type Language struct {
	Name    string
	Version string
}

// AliasTable maps user-typed language tokens (names, shorthands, file
// extensions) to canonical backend languages. Populated once at startup from
// the backend's runtime listing and read-only afterward.
type AliasTable struct {
	aliases   map[string]string   // alias -> canonical name
	languages map[string]Language // canonical name -> pinned language
}

// seedAliases are the shorthands users actually type, accumulated from years
// of chat usage. Backend-reported aliases are merged on top.
var seedAliases = map[string]string{
	"asm":        "nasm",
	"awk":        "awk",
	"bash":       "bash",
	"bf":         "brainfuck",
	"brainfuck":  "brainfuck",
	"c":          "c",
	"c#":         "csharp",
	"c++":        "cpp",
	"cpp":        "cpp",
	"cs":         "csharp",
	"csharp":     "csharp",
	"duby":       "ruby",
	"el":         "emacs",
	"elisp":      "emacs",
	"elixir":     "elixir",
	"emacs":      "emacs",
	"go":         "go",
	"golang":     "go",
	"java":       "java",
	"javascript": "javascript",
	"jl":         "julia",
	"js":         "javascript",
	"julia":      "julia",
	"kotlin":     "kotlin",
	"nasm":       "nasm",
	"node":       "javascript",
	"php":        "php",
	"php3":       "php",
	"php4":       "php",
	"php5":       "php",
	"py":         "python3",
	"py3":        "python3",
	"python":     "python3",
	"python2":    "python2",
	"python3":    "python3",
	"r":          "r",
	"rb":         "ruby",
	"rs":         "rust",
	"ruby":       "ruby",
	"rust":       "rust",
	"sage":       "python3",
	"swift":      "swift",
	"ts":         "typescript",
	"typescript": "typescript",
}

// BuildAliasTable constructs the alias table from the backend runtime
// listing. pins overrides the version reported by the backend for a given
// canonical language; extra adds deployment-specific aliases on top of the
// seeded and backend-reported ones.
func BuildAliasTable(runtimes []Runtime, pins, extra map[string]string) *AliasTable {
	t := &AliasTable{
		aliases:   make(map[string]string),
		languages: make(map[string]Language),
	}

	for _, rt := range runtimes {
		name := strings.ToLower(rt.Language)
		version := rt.Version
		if pinned, ok := pins[name]; ok {
			version = pinned
		}
		t.languages[name] = Language{Name: name, Version: version}
		t.aliases[name] = name
		for _, alias := range rt.Aliases {
			t.aliases[strings.ToLower(alias)] = name
		}
	}

	// Seeded shorthands only apply when the backend actually serves the
	// canonical language they point at.
	for alias, name := range seedAliases {
		if _, ok := t.languages[name]; ok {
			t.aliases[alias] = name
		}
	}
	for alias, name := range extra {
		if _, ok := t.languages[strings.ToLower(name)]; ok {
			t.aliases[strings.ToLower(alias)] = strings.ToLower(name)
		}
	}

	return t
}

// Resolve looks up a user-typed token and returns the canonical language.
// The token is lower-cased before lookup.
func (t *AliasTable) Resolve(token string) (Language, bool) {
	name, ok := t.aliases[strings.ToLower(token)]
	if !ok {
		return Language{}, false
	}
	return t.languages[name], true
}

// Languages returns all canonical language names in no particular order.
func (t *AliasTable) Languages() []string {
	out := make([]string, 0, len(t.languages))
	for name := range t.languages {
		out = append(out, name)
	}
	return out
}

// Len returns the number of canonical languages in the table.
func (t *AliasTable) Len() int {
	return len(t.languages)
}

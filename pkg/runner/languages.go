package runner

import (
	"fmt"
	"sort"

	"github.com/rhuss/codeexec/pkg/api"
)

// Language describes how one language is executed.
type Language struct {
	// Name is the canonical identifier.
	Name string

	// Extension is the file suffix of the program file, including the dot.
	Extension string

	// Command is the interpreter argv. The program path is appended.
	Command []string

	// Image is the container image used by the docker backend.
	Image string
}

// Argv returns the full command line for running the program at path.
func (l Language) Argv(path string) []string {
	argv := make([]string, 0, len(l.Command)+1)
	argv = append(argv, l.Command...)
	return append(argv, path)
}

// LanguageOverride replaces parts of a built-in language entry.
// Empty fields keep the built-in value.
type LanguageOverride struct {
	Command []string
	Image   string
}

// Table maps canonical language identifiers to their execution settings.
type Table map[string]Language

// DefaultTable returns the built-in language table.
func DefaultTable() Table {
	return Table{
		api.LanguagePython: {
			Name:      api.LanguagePython,
			Extension: ".py",
			Command:   []string{"python3"},
			Image:     "python:3.12-slim",
		},
		api.LanguageTypeScript: {
			Name:      api.LanguageTypeScript,
			Extension: ".ts",
			Command:   []string{"npx", "--yes", "tsx"},
			Image:     "node:22-slim",
		},
		api.LanguageJavaScript: {
			Name:      api.LanguageJavaScript,
			Extension: ".js",
			Command:   []string{"node"},
			Image:     "node:22-slim",
		},
		api.LanguageGo: {
			Name:      api.LanguageGo,
			Extension: ".go",
			Command:   []string{"go", "run"},
			Image:     "golang:1.25-alpine",
		},
		api.LanguageShell: {
			Name:      api.LanguageShell,
			Extension: ".sh",
			Command:   []string{"sh"},
			Image:     "alpine:3.21",
		},
	}
}

// NewTable returns the built-in table with overrides applied. Override keys
// must be canonical identifiers.
func NewTable(overrides map[string]LanguageOverride) (Table, error) {
	t := DefaultTable()
	for name, o := range overrides {
		lang, ok := t[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, name)
		}
		if len(o.Command) > 0 {
			lang.Command = append([]string(nil), o.Command...)
		}
		if o.Image != "" {
			lang.Image = o.Image
		}
		t[name] = lang
	}
	return t, nil
}

// Lookup returns the entry for a canonical identifier.
func (t Table) Lookup(name string) (Language, error) {
	lang, ok := t[name]
	if !ok {
		return Language{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, name)
	}
	return lang, nil
}

// Names returns the identifiers in the table, sorted.
func (t Table) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

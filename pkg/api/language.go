package api

// Canonical language identifiers. Identifiers are case-sensitive.
const (
	LanguagePython     = "python"
	LanguageTypeScript = "ts"
	LanguageJavaScript = "javascript"
	LanguageGo         = "go"
	LanguageShell      = "sh"
)

// DefaultLanguage is used when a request leaves the language empty.
const DefaultLanguage = LanguagePython

var languageAliases = map[string]string{
	LanguagePython:     LanguagePython,
	"py":               LanguagePython,
	LanguageTypeScript: LanguageTypeScript,
	"typescript":       LanguageTypeScript,
	LanguageJavaScript: LanguageJavaScript,
	"js":               LanguageJavaScript,
	LanguageGo:         LanguageGo,
	"golang":           LanguageGo,
	LanguageShell:      LanguageShell,
	"bash":             LanguageShell,
}

// NormalizeLanguage maps a language identifier or one of its aliases to the
// canonical identifier. The empty string maps to DefaultLanguage. The second
// return value is false for unknown identifiers.
func NormalizeLanguage(lang string) (string, bool) {
	if lang == "" {
		return DefaultLanguage, true
	}
	canonical, ok := languageAliases[lang]
	return canonical, ok
}

// Languages returns the canonical identifiers in a stable order.
func Languages() []string {
	return []string{
		LanguagePython,
		LanguageTypeScript,
		LanguageJavaScript,
		LanguageGo,
		LanguageShell,
	}
}

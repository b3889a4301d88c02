package translate

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

const defaultLanguageName = "English"

// LanguageName resolves a BCP-47 tag into its English display name for use
// inside the provider prompt. Unparseable tags fall back to the raw input.
func LanguageName(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return defaultLanguageName
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	if name := display.English.Languages().Name(parsed); name != "" {
		return name
	}
	return tag
}

// BuildPrompt produces the instruction sent to the provider for one job.
// Variations beyond the first ask for an alternative rendition so each
// variation yields an independent artifact.
func BuildPrompt(targetLanguage string, variation int) string {
	name := LanguageName(targetLanguage)
	var b strings.Builder
	fmt.Fprintf(&b, "Translate all visible text in this image into %s.", name)
	b.WriteString(" Preserve the original layout, typography and colors;")
	b.WriteString(" replace only the text content.")
	if variation > 0 {
		fmt.Fprintf(&b, " Produce alternative rendition #%d with a different phrasing of the translated text.", variation+1)
	}
	return b.String()
}

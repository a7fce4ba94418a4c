package router

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed texts.yaml
var textsYAML []byte

const defaultLang = "EN"

// Texts is the localized reply catalog.
type Texts struct {
	texts   map[string]map[string]string
	buttons map[string]map[string]string
}

// LoadTexts parses the embedded catalog.
func LoadTexts() (*Texts, error) {
	return parseTexts(textsYAML)
}

func parseTexts(data []byte) (*Texts, error) {
	var raw struct {
		Texts   map[string]map[string]string `yaml:"texts"`
		Buttons map[string]map[string]string `yaml:"buttons"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse texts: %w", err)
	}
	for key, byLang := range raw.Texts {
		if byLang[defaultLang] == "" {
			return nil, fmt.Errorf("text %q has no %s entry", key, defaultLang)
		}
	}
	for key, byLang := range raw.Buttons {
		if byLang[defaultLang] == "" {
			return nil, fmt.Errorf("button %q has no %s entry", key, defaultLang)
		}
	}
	return &Texts{texts: raw.Texts, buttons: raw.Buttons}, nil
}

var placeholder = regexp.MustCompile(`\{(\w+)\}`)

// T returns the text for key in lang with {name} placeholders filled from
// vars, given as name, value pairs. Unknown placeholders become empty.
func (t *Texts) T(lang, key string, vars ...string) string {
	tmpl := lookup(t.texts, lang, key)
	if len(vars) == 0 || !strings.Contains(tmpl, "{") {
		return tmpl
	}
	values := make(map[string]string, len(vars)/2)
	for i := 0; i+1 < len(vars); i += 2 {
		values[vars[i]] = vars[i+1]
	}
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		return values[m[1:len(m)-1]]
	})
}

// Button returns the label of a keyboard button.
func (t *Texts) Button(lang, key string) string {
	return lookup(t.buttons, lang, key)
}

func lookup(table map[string]map[string]string, lang, key string) string {
	byLang := table[key]
	if v := byLang[lang]; v != "" {
		return v
	}
	return byLang[defaultLang]
}

// normalizeInput lowercases and collapses whitespace for command matching.
func normalizeInput(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// IsCommand reports whether input equals one of candidates, ignoring case
// and extra whitespace.
func IsCommand(input string, candidates ...string) bool {
	normalized := normalizeInput(input)
	if normalized == "" {
		return false
	}
	for _, c := range candidates {
		if normalized == normalizeInput(c) {
			return true
		}
	}
	return false
}

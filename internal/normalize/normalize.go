// Package normalize canonicalizes free-text brand, model, city and phone
// values. Normalization is best effort: an unknown value comes back trimmed,
// an empty one yields nothing.
package normalize

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Kind names an alias table.
type Kind string

const (
	KindBrand Kind = "brand"
	KindModel Kind = "model"
	KindCity  Kind = "city"
)

//go:embed aliases.yaml
var builtinYAML []byte

// AliasStore looks up canonical values. An empty companyID searches the
// global table.
type AliasStore interface {
	Lookup(ctx context.Context, companyID string, kind Kind, alias string) (string, bool, error)
}

// Normalizer resolves aliases tenant first, then global, then built in.
type Normalizer struct {
	store   AliasStore
	builtin map[Kind]map[string]string
	logger  *slog.Logger
}

// New creates a normalizer. store may be nil.
func New(log *slog.Logger, store AliasStore) (*Normalizer, error) {
	if log == nil {
		log = slog.Default()
	}
	builtin, err := parseBuiltin(builtinYAML)
	if err != nil {
		return nil, err
	}
	return &Normalizer{
		store:   store,
		builtin: builtin,
		logger:  log.With(slog.String("component", "normalize")),
	}, nil
}

func parseBuiltin(data []byte) (map[Kind]map[string]string, error) {
	var raw map[string]map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse built-in aliases: %w", err)
	}
	out := make(map[Kind]map[string]string, len(raw))
	for kind, entries := range raw {
		table := make(map[string]string, len(entries))
		for alias, value := range entries {
			table[key(alias)] = value
		}
		out[Kind(kind)] = table
	}
	return out, nil
}

func (n *Normalizer) Brand(ctx context.Context, companyID, raw string) (string, bool) {
	return n.Normalize(ctx, companyID, KindBrand, raw)
}

func (n *Normalizer) Model(ctx context.Context, companyID, raw string) (string, bool) {
	return n.Normalize(ctx, companyID, KindModel, raw)
}

func (n *Normalizer) City(ctx context.Context, companyID, raw string) (string, bool) {
	return n.Normalize(ctx, companyID, KindCity, raw)
}

// Normalize returns the canonical value of raw. Alias store failures are
// logged and the built-in table is used instead.
func (n *Normalizer) Normalize(ctx context.Context, companyID string, kind Kind, raw string) (string, bool) {
	k := key(raw)
	if k == "" {
		return "", false
	}
	if n.store != nil {
		scopes := []string{""}
		if companyID = strings.TrimSpace(companyID); companyID != "" {
			scopes = []string{companyID, ""}
		}
		for _, scope := range scopes {
			value, ok, err := n.store.Lookup(ctx, scope, kind, k)
			if err != nil {
				n.logger.Warn("alias lookup failed", slog.String("kind", string(kind)), slog.Any("error", err))
				break
			}
			if ok && value != "" {
				return value, true
			}
		}
	}
	if value, ok := n.builtin[kind][k]; ok {
		return value, true
	}
	return collapse(raw), true
}

// Detect returns the canonical value of the first built-in alias of kind
// found among the words of text, or "".
func (n *Normalizer) Detect(kind Kind, text string) string {
	table := n.builtin[kind]
	if len(table) == 0 {
		return ""
	}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	for i, w := range words {
		if i+1 < len(words) {
			if value, ok := table[w+" "+words[i+1]]; ok {
				return value
			}
		}
		if value, ok := table[w]; ok {
			return value
		}
	}
	return ""
}

var spaces = regexp.MustCompile(`\s+`)

func collapse(value string) string {
	return strings.TrimSpace(spaces.ReplaceAllString(value, " "))
}

func key(value string) string {
	return strings.ToLower(collapse(value))
}

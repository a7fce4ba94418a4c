// Package callback encodes inline button data within Telegram's 64 byte
// limit.
package callback

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// MaxBytes is the Bot API limit for callback_data.
const MaxBytes = 64

const v1Prefix = "v1:act:"

var (
	ErrEmpty = errors.New("callback data is empty")
	// ErrLegacy marks data that is neither form. Callers hand it to the
	// legacy scenario handlers.
	ErrLegacy = errors.New("legacy callback data")
)

var (
	unsafeChars   = regexp.MustCompile(`[^A-Za-z0-9_-]`)
	base64Charset = regexp.MustCompile(`^[A-Za-z0-9+/=]+$`)
)

// Data is a decoded callback.
type Data struct {
	Version int
	Action  string
	ID      string
	Raw     string
}

type jsonForm struct {
	V   int    `json:"v"`
	Act string `json:"act"`
	ID  string `json:"id,omitempty"`
}

// Build encodes action and id, each cut to 24 characters of [A-Za-z0-9_-].
// It prefers "v1:act:<action>:<id>", falls back to base64 JSON, then
// shortens action and id until the result fits.
func Build(action, id string) string {
	safeAction := sanitize(action, 24)
	safeID := sanitize(id, 24)
	if data := buildV1(safeAction, safeID); len(data) <= MaxBytes {
		return data
	}
	if data := buildBase64(safeAction, safeID); len(data) <= MaxBytes {
		return data
	}
	shortAction := sanitize(action, 12)
	shortID := sanitize(id, 16)
	if data := buildV1(shortAction, shortID); len(data) <= MaxBytes {
		return data
	}
	return buildV1(shortAction, sanitize(shortID, 8))
}

// Parse decodes data built by Build. Anything else yields ErrLegacy.
func Parse(raw string) (Data, error) {
	data := strings.TrimSpace(raw)
	if data == "" {
		return Data{}, ErrEmpty
	}
	if strings.HasPrefix(data, v1Prefix) {
		rest := strings.TrimPrefix(data, v1Prefix)
		action, id, _ := strings.Cut(rest, ":")
		if action == "" {
			return Data{Raw: data}, errors.New("callback data has no action")
		}
		return Data{Version: 1, Action: action, ID: id, Raw: data}, nil
	}
	if parsed, ok := parseBase64(data); ok {
		return parsed, nil
	}
	return Data{Raw: data}, ErrLegacy
}

func parseBase64(data string) (Data, bool) {
	if len(data) < 8 || !base64Charset.MatchString(data) {
		return Data{}, false
	}
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return Data{}, false
	}
	var form jsonForm
	if err := json.Unmarshal(decoded, &form); err != nil {
		return Data{}, false
	}
	if form.V != 1 || form.Act == "" {
		return Data{}, false
	}
	return Data{Version: 1, Action: form.Act, ID: form.ID, Raw: data}, true
}

func buildV1(action, id string) string {
	if id == "" {
		return v1Prefix + action
	}
	return v1Prefix + action + ":" + id
}

func buildBase64(action, id string) string {
	body, _ := json.Marshal(jsonForm{V: 1, Act: action, ID: id})
	return base64.StdEncoding.EncodeToString(body)
}

func sanitize(value string, limit int) string {
	value = unsafeChars.ReplaceAllString(value, "")
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}

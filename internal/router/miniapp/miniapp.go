// Package miniapp parses the JSON a Telegram mini app sends back through
// message.web_app_data.
package miniapp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Payload types.
const (
	TypeLeadSubmit    = "lead_submit"
	TypeInterestClick = "interest_click"
	TypeSellSubmit    = "sell_submit"
)

// Error codes reported in Result.Error.
const (
	ErrInvalidJSON        = "invalid_json"
	ErrNotObject          = "payload_not_object"
	ErrUnsupportedVersion = "unsupported_version"
	ErrUnsupportedType    = "unsupported_type"
)

// Payload is a v1 mini app submission.
type Payload struct {
	V      int            `json:"v" validate:"eq=1"`
	Type   string         `json:"type" validate:"oneof=lead_submit interest_click sell_submit"`
	CarID  string         `json:"carId,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// Result is the outcome of Parse. Error is set when OK is false.
type Result struct {
	OK      bool
	Error   string
	Payload Payload
}

var validate = validator.New()

// Parse decodes and validates raw.
func Parse(raw []byte) Result {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return Result{Error: ErrInvalidJSON}
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return Result{Error: ErrNotObject}
	}

	payload := Payload{
		V:      versionOf(obj["v"]),
		Type:   strings.ToLower(stringify(obj["type"])),
		CarID:  stringify(obj["carId"]),
		Fields: objectOf(obj["fields"]),
		Meta:   objectOf(obj["meta"]),
	}
	if err := validate.Struct(payload); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Field() == "Type" {
			return Result{Error: ErrUnsupportedType}
		}
		return Result{Error: ErrUnsupportedVersion}
	}
	return Result{OK: true, Payload: payload}
}

// Field returns the first non-empty field among keys, as a string.
func (p Payload) Field(keys ...string) string {
	for _, key := range keys {
		if s := strings.TrimSpace(stringify(p.Fields[key])); s != "" {
			return s
		}
	}
	return ""
}

// IntField returns the first numeric field among keys.
func (p Payload) IntField(keys ...string) int {
	for _, key := range keys {
		s := stringify(p.Fields[key])
		if s == "" {
			continue
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil && n > 0 {
			return int(n)
		}
	}
	return 0
}

// Lang returns the language override carried in meta or fields.
func (p Payload) Lang() string {
	if s := strings.TrimSpace(stringify(p.Meta["lang"])); s != "" {
		return s
	}
	return p.Field("lang", "language")
}

// versionOf accepts 1 and integral floats such as 1.0.
func versionOf(v any) int {
	n, ok := v.(json.Number)
	if !ok {
		return 0
	}
	if i, err := n.Int64(); err == nil {
		return int(i)
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0
	}
	return int(f)
}

func objectOf(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// Package envelope encodes JSON documents that have a few typed fields plus
// an open set of extension keys.
package envelope

import (
	"encoding/json"
	"reflect"
	"strings"
)

// Unmarshal decodes data into known (a pointer to a struct) and returns every
// key that known does not declare.
func Unmarshal(data []byte, known any) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if err := json.Unmarshal(data, known); err != nil {
		return nil, err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, name := range fieldNames(known) {
		delete(all, name)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// Marshal encodes known and merges extra keys that known does not set.
func Marshal(known any, extra map[string]any) ([]byte, error) {
	base, err := json.Marshal(known)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return base, nil
	}
	merged := map[string]any{}
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	reserved := map[string]struct{}{}
	for _, name := range fieldNames(known) {
		reserved[name] = struct{}{}
	}
	for key, value := range extra {
		if _, ok := reserved[key]; ok {
			continue
		}
		merged[key] = value
	}
	return json.Marshal(merged)
}

// CloneMap copies the top level of a map.
func CloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func fieldNames(v any) []string {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	names := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if name == "" {
			name = field.Name
		}
		names = append(names, name)
	}
	return names
}

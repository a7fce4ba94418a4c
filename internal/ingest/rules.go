package ingest

import (
	"strings"

	"github.com/cartie/cartie/internal/inventory"
)

// ApplyRules filters data through a source's import rules and applies its
// overrides. Bounds only reject values that were actually parsed.
func ApplyRules(data CarData, rules inventory.ImportRules) (CarData, bool) {
	if rules.MinYear > 0 && data.Year > 0 && data.Year < rules.MinYear {
		return data, false
	}
	if rules.MaxYear > 0 && data.Year > 0 && data.Year > rules.MaxYear {
		return data, false
	}
	if rules.MinPrice > 0 && data.Price > 0 && data.Price < rules.MinPrice {
		return data, false
	}
	if rules.MaxPrice > 0 && data.Price > 0 && data.Price > rules.MaxPrice {
		return data, false
	}
	if !matchesKeywords(data, rules.FilterKeywords) {
		return data, false
	}
	if rules.MapTo.Brand != "" {
		data.Brand = rules.MapTo.Brand
	}
	if rules.MapTo.Location != "" {
		data.Location = rules.MapTo.Location
	}
	if rules.MapTo.Currency != "" {
		data.Currency = rules.MapTo.Currency
	}
	return data, true
}

func matchesKeywords(data CarData, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	haystack := strings.ToLower(data.Brand + " " + data.Model + " " + data.Title)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

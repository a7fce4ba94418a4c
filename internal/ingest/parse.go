package ingest

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cartie/cartie/internal/normalize"
)

const (
	DefaultCurrency = "USD"
	minListingYear  = 1990
	titleLimit      = 100
)

// Price is an amount with its currency.
type Price struct {
	Amount   int
	Currency string
}

const amountPattern = `(\d{1,3}(?:[ \x{00a0},.]\d{3})+|\d+)`

var (
	pricePrefixRe = regexp.MustCompile(`(?i)([$€₴])[ \t]*` + amountPattern + `[ \t]*(k|к)?`)
	priceSuffixRe = regexp.MustCompile(`(?i)` + amountPattern + `[ \t]*(k|к|тис\.?|тыс\.?)?[ \t]*([$€₴]|usd|eur|uah|грн)`)
	mileageRe     = regexp.MustCompile(`(?i)` + amountPattern + `[ \t]*(k|к|тис\.?|тыс\.?)?[ \t]*(km|км|miles)`)
	yearRe        = regexp.MustCompile(`(?:^|\D)((?:19|20)\d{2})(?:\D|$)`)

	fuelPatterns = []struct {
		re    *regexp.Regexp
		value string
	}{
		{regexp.MustCompile(`(?i)diesel|дизель`), "diesel"},
		{regexp.MustCompile(`(?i)petrol|бензин|gasoline`), "petrol"},
		{regexp.MustCompile(`(?i)electric|електро|электро`), "electric"},
	}
	transmissionPatterns = []struct {
		re    *regexp.Regexp
		value string
	}{
		{regexp.MustCompile(`(?i)automatic|автомат`), "automatic"},
		{regexp.MustCompile(`(?i)manual|механіка|механика`), "manual"},
	}
)

// ParsePrice finds an amount written next to a currency marker, either
// "$18 000" or "18000 usd". "18k$" is 18000.
func ParsePrice(text string) (Price, bool) {
	if m := pricePrefixRe.FindStringSubmatch(text); m != nil {
		if amount, ok := parseAmount(m[2], m[3]); ok {
			return Price{Amount: amount, Currency: currencyCode(m[1])}, true
		}
	}
	if m := priceSuffixRe.FindStringSubmatch(text); m != nil {
		if amount, ok := parseAmount(m[1], m[2]); ok {
			return Price{Amount: amount, Currency: currencyCode(m[3])}, true
		}
	}
	return Price{}, false
}

// ParseMileage finds a distance such as "85 000 km" or "85k км".
func ParseMileage(text string) (int, bool) {
	m := mileageRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	return parseAmount(m[1], m[2])
}

// ParseYear finds a standalone four digit year starting with 19 or 20.
func ParseYear(text string) (int, bool) {
	m := yearRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return year, true
}

// MaxPrice bounds parsed amounts to what the listings price column holds.
const MaxPrice = math.MaxInt32

func parseAmount(digits, multiplier string) (int, bool) {
	clean := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, digits)
	amount, err := strconv.Atoi(clean)
	if err != nil || amount <= 0 || amount > MaxPrice {
		return 0, false
	}
	if multiplier != "" {
		if amount > MaxPrice/1000 {
			return 0, false
		}
		amount *= 1000
	}
	return amount, true
}

func currencyCode(marker string) string {
	switch strings.ToLower(marker) {
	case "$", "usd":
		return "USD"
	case "€", "eur":
		return "EUR"
	case "₴", "uah", "грн":
		return "UAH"
	}
	return DefaultCurrency
}

// CarData is what a free-text post says about a car.
type CarData struct {
	Title    string
	Brand    string
	Model    string
	Year     int
	Price    int
	Currency string
	Mileage  int
	Location string
	Specs    map[string]any
}

// Detector finds canonical brand, model and city names in free text.
type Detector interface {
	Detect(kind normalize.Kind, text string) string
}

// ExtractCarData reads a channel post. The year must fall between 1990 and
// next year.
func ExtractCarData(d Detector, text string, now time.Time) (CarData, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return CarData{}, false
	}
	data := CarData{Currency: DefaultCurrency}
	if d != nil {
		data.Brand = d.Detect(normalize.KindBrand, text)
		data.Model = d.Detect(normalize.KindModel, text)
		data.Location = d.Detect(normalize.KindCity, text)
	}
	if data.Brand != "" {
		data.Title = strings.TrimSpace(data.Brand + " " + data.Model)
	}
	if year, ok := ParseYear(text); ok && year >= minListingYear && year <= now.Year()+1 {
		data.Year = year
	}
	if price, ok := ParsePrice(text); ok {
		data.Price = price.Amount
		data.Currency = price.Currency
	}
	if mileage, ok := ParseMileage(text); ok {
		data.Mileage = mileage
	}

	specs := map[string]any{}
	for _, p := range fuelPatterns {
		if p.re.MatchString(text) {
			specs["fuel"] = p.value
			break
		}
	}
	for _, p := range transmissionPatterns {
		if p.re.MatchString(text) {
			specs["transmission"] = p.value
			break
		}
	}
	if len(specs) > 0 {
		data.Specs = specs
	}
	if data.Title == "" {
		data.Title = truncateRunes(text, titleLimit)
	}
	return data, true
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit]))
}

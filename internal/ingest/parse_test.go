package ingest

import (
	"testing"
	"time"

	"github.com/cartie/cartie/internal/inventory"
	"github.com/cartie/cartie/internal/normalize"
)

func TestParsePrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text   string
		want   Price
		wantOK bool
	}{
		{text: "BMW X5 2020\nPrice: 50000 USD", want: Price{50000, "USD"}, wantOK: true},
		{text: "Ціна $18 500, торг", want: Price{18500, "USD"}, wantOK: true},
		{text: "Audi A6 2019, 25.000€", want: Price{25000, "EUR"}, wantOK: true},
		{text: "18k$ швидкий продаж", want: Price{18000, "USD"}, wantOK: true},
		{text: "750 000 грн", want: Price{750000, "UAH"}, wantOK: true},
		{text: "пробіг 85 000 км 2018", wantOK: false},
		{text: "Hello world", wantOK: false},
		{text: "9223372036854775k$", wantOK: false},
		{text: "Price: 99999999999999999999 USD", wantOK: false},
		{text: "3000000k$", wantOK: false},
		{text: "2000000k$", want: Price{2000000000, "USD"}, wantOK: true},
	}
	for _, tt := range tests {
		got, ok := ParsePrice(tt.text)
		if ok != tt.wantOK {
			t.Errorf("ParsePrice(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("ParsePrice(%q) = %+v, want %+v", tt.text, got, tt.want)
		}
	}
}

func TestParseMileageAndYear(t *testing.T) {
	t.Parallel()

	if got, ok := ParseMileage("Mileage: 10000 km"); !ok || got != 10000 {
		t.Fatalf("ParseMileage km = %d, %v", got, ok)
	}
	if got, ok := ParseMileage("пробіг 85 тис. км"); !ok || got != 85000 {
		t.Fatalf("ParseMileage тис = %d, %v", got, ok)
	}
	if _, ok := ParseMileage("no distance here"); ok {
		t.Fatal("expected no mileage")
	}
	if got, ok := ParseYear("BMW X5 2020, 50000$"); !ok || got != 2020 {
		t.Fatalf("ParseYear = %d, %v", got, ok)
	}
	if _, ok := ParseYear("$20000"); ok {
		t.Fatal("a five digit price is not a year")
	}
}

type tableDetector map[normalize.Kind]string

func (d tableDetector) Detect(kind normalize.Kind, _ string) string {
	return d[kind]
}

func TestExtractCarData(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	d := tableDetector{normalize.KindBrand: "BMW", normalize.KindModel: "X5", normalize.KindCity: "Kyiv"}

	data, ok := ExtractCarData(d, "BMW X5 2019, дизель, автомат, 120 000 км, $42 000, Київ", now)
	if !ok {
		t.Fatal("expected car data")
	}
	if data.Title != "BMW X5" || data.Year != 2019 || data.Price != 42000 || data.Currency != "USD" {
		t.Fatalf("unexpected data: %+v", data)
	}
	if data.Mileage != 120000 || data.Location != "Kyiv" {
		t.Fatalf("unexpected mileage/location: %+v", data)
	}
	if data.Specs["fuel"] != "diesel" || data.Specs["transmission"] != "automatic" {
		t.Fatalf("unexpected specs: %+v", data.Specs)
	}

	future, _ := ExtractCarData(nil, "Concept 2099 $1", now)
	if future.Year != 0 {
		t.Fatalf("year beyond next year must be ignored, got %d", future.Year)
	}
	if future.Title != "Concept 2099 $1" {
		t.Fatalf("expected text as title, got %q", future.Title)
	}
	if _, ok := ExtractCarData(nil, "   ", now); ok {
		t.Fatal("empty text has no car data")
	}
}

func TestApplyRules(t *testing.T) {
	t.Parallel()

	data := CarData{Title: "BMW X5", Brand: "BMW", Model: "X5", Year: 2015, Price: 20000, Currency: "USD"}
	tests := []struct {
		name  string
		rules inventory.ImportRules
		want  bool
	}{
		{name: "no rules", want: true},
		{name: "too old", rules: inventory.ImportRules{MinYear: 2016}, want: false},
		{name: "too new", rules: inventory.ImportRules{MaxYear: 2014}, want: false},
		{name: "too cheap", rules: inventory.ImportRules{MinPrice: 25000}, want: false},
		{name: "too expensive", rules: inventory.ImportRules{MaxPrice: 10000}, want: false},
		{name: "keyword hit", rules: inventory.ImportRules{FilterKeywords: []string{"x5"}}, want: true},
		{name: "keyword miss", rules: inventory.ImportRules{FilterKeywords: []string{"audi"}}, want: false},
	}
	for _, tt := range tests {
		if _, ok := ApplyRules(data, tt.rules); ok != tt.want {
			t.Errorf("%s: ApplyRules ok = %v, want %v", tt.name, ok, tt.want)
		}
	}

	mapped, ok := ApplyRules(data, inventory.ImportRules{MapTo: inventory.MapTo{Location: "Lviv", Currency: "EUR"}})
	if !ok || mapped.Location != "Lviv" || mapped.Currency != "EUR" || mapped.Brand != "BMW" {
		t.Fatalf("unexpected mapped data: %+v", mapped)
	}
	unparsed, ok := ApplyRules(CarData{Title: "x"}, inventory.ImportRules{MinYear: 2010, MinPrice: 1000})
	if !ok || unparsed.Title != "x" {
		t.Fatal("bounds must not reject values that were not parsed")
	}
}

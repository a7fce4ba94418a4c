package inventory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/cartie/cartie/internal/db/dbtest"
)

const testCompanyID = "3f0c9a52-1d8e-4a5b-9a59-4f2d7b0c6e11"

func listingRow(title string, year, price int32) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[2].(*string) = title
		*dest[3].(*pgtype.Int4) = pgtype.Int4{Int32: year, Valid: true}
		*dest[4].(*pgtype.Int4) = pgtype.Int4{Int32: price, Valid: true}
		*dest[5].(*pgtype.Text) = pgtype.Text{String: "USD", Valid: true}
		*dest[8].(*string) = StatusAvailable
		*dest[10].(*string) = SourceManual
		return nil
	}
}

func TestSearch_BuildsFilters(t *testing.T) {
	t.Parallel()

	var gotSQL string
	var gotArgs []any
	rows := &dbtest.Rows{ScanFuncs: []func(...any) error{
		listingRow("BMW X5", 2019, 42000),
		listingRow("BMW X5 M", 2021, 68000),
	}}
	fake := &dbtest.DBTX{QueryFunc: func(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
		gotSQL, gotArgs = sql, args
		return rows, nil
	}}
	store := NewDBStore(fake)

	listings, err := store.Search(context.Background(), Filter{
		CompanyID: testCompanyID,
		Brand:     "BMW",
		Model:     "X5",
		YearMin:   2018,
		PriceMax:  70000,
		City:      "Kyiv",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listings) != 2 || listings[1].Title != "BMW X5 M" || listings[0].Year != 2019 {
		t.Fatalf("unexpected listings: %+v", listings)
	}
	for _, fragment := range []string{"status = $1", "title ILIKE $2", "title ILIKE $3", "year >= $4", "price <= $5",
		"location ILIKE $6", "(company_id = $7 OR company_id IS NULL)", "ORDER BY posted_at DESC LIMIT $8"} {
		if !strings.Contains(gotSQL, fragment) {
			t.Fatalf("query missing %q:\n%s", fragment, gotSQL)
		}
	}
	if gotArgs[1] != "%BMW%" || gotArgs[len(gotArgs)-1] != DefaultSearchLimit {
		t.Fatalf("unexpected args: %v", gotArgs)
	}
	if !rows.Closed() {
		t.Fatal("rows not closed")
	}
}

func TestSearch_NoCompanySkipsTenantClause(t *testing.T) {
	t.Parallel()

	var gotSQL string
	fake := &dbtest.DBTX{QueryFunc: func(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
		gotSQL = sql
		return &dbtest.Rows{}, nil
	}}
	listings, err := NewDBStore(fake).Search(context.Background(), Filter{Limit: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listings) != 0 {
		t.Fatalf("expected no listings, got %d", len(listings))
	}
	if strings.Contains(gotSQL, "company_id") {
		t.Fatalf("unexpected tenant clause:\n%s", gotSQL)
	}
}

func TestCreateListing_DuplicateSourceMessage(t *testing.T) {
	t.Parallel()

	fake := &dbtest.DBTX{ExecFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
		return pgconn.NewCommandTag("INSERT 0 0"), nil
	}}
	created, err := NewDBStore(fake).CreateListing(context.Background(), Listing{
		Title:           "Audi A6",
		Status:          StatusPending,
		Source:          SourceMTProto,
		SourceChatID:    "-100123",
		SourceMessageID: 7,
		PostedAt:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Fatal("expected duplicate source message to be skipped")
	}
	if len(fake.CallsContaining("ON CONFLICT (source_chat_id, source_message_id)")) != 1 {
		t.Fatal("insert is not idempotent per source message")
	}
}

func TestUpsertDestination_MergesTags(t *testing.T) {
	t.Parallel()

	fake := &dbtest.DBTX{}
	err := NewDBStore(fake).UpsertDestination(context.Background(), Destination{
		ID:         "dest_-100555",
		Identifier: "-100555",
		Name:       "Showroom channel",
		Type:       DestinationChannel,
		Verified:   true,
		Tags:       []string{"imported"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := fake.CallsContaining("ON CONFLICT (identifier)")
	if len(calls) != 1 {
		t.Fatalf("expected one upsert, got %d", len(calls))
	}
	if calls[0].Args[0] != "dest_-100555" {
		t.Fatalf("unexpected id arg: %v", calls[0].Args[0])
	}
}

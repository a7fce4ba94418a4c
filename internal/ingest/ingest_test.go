package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartie/cartie/internal/bots"
	"github.com/cartie/cartie/internal/inventory"
	"github.com/cartie/cartie/internal/media"
	"github.com/cartie/cartie/internal/pipeline"
	"github.com/cartie/cartie/internal/telegram"
)

type fakeInventory struct {
	drafts       []inventory.Draft
	destinations []inventory.Destination
	listings     []inventory.Listing
	seen         map[string]bool
}

func (f *fakeInventory) CreateDraft(_ context.Context, d inventory.Draft) (bool, error) {
	f.drafts = append(f.drafts, d)
	return true, nil
}

func (f *fakeInventory) UpsertDestination(_ context.Context, d inventory.Destination) error {
	f.destinations = append(f.destinations, d)
	return nil
}

func (f *fakeInventory) Search(context.Context, inventory.Filter) ([]inventory.Listing, error) {
	return f.listings, nil
}

func (f *fakeInventory) Get(context.Context, string) (inventory.Listing, bool, error) {
	return inventory.Listing{}, false, nil
}

func (f *fakeInventory) CreateListing(_ context.Context, l inventory.Listing) (bool, error) {
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	key := l.SourceChatID + "/" + MessageLink(l.SourceChatID, l.SourceMessageID)
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	f.listings = append(f.listings, l)
	return true, nil
}

type fakeFiles struct {
	err error
}

func (f fakeFiles) FileURL(_ context.Context, token, fileID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "https://api.telegram.org/file/bot" + token + "/photos/" + fileID + ".jpg", nil
}

type fakeMedia struct {
	urls []string
}

func (f *fakeMedia) Fetch(_ context.Context, botID, url string) (media.Asset, error) {
	f.urls = append(f.urls, url)
	return media.Asset{BotID: botID, Path: "/media/" + botID + "/image/ab12/ab12cd.jpg"}, nil
}

func decode(t *testing.T, body string) telegram.Update {
	t.Helper()
	u, err := telegram.Decode([]byte(body))
	require.NoError(t, err)
	return u
}

const carPost = `{"update_id":1,"channel_post":{"message_id":123,"date":1,
"chat":{"id":-100123,"type":"channel","title":"Test Channel"},
"text":"BMW X5 2020\nPrice: 50000 USD\nMileage: 10000 km",
"photo":[{"file_id":"small","width":90,"height":60,"file_size":1000},{"file_id":"big","width":1280,"height":853,"file_size":90000}]}}`

func TestHandleUpdate_ChannelPostDraft(t *testing.T) {
	t.Parallel()

	inv := &fakeInventory{}
	fetched := &fakeMedia{}
	svc := NewService(nil, Deps{Drafts: inv, Destinations: inv, Files: fakeFiles{}, Media: fetched})
	bot := bots.Bot{ID: "bot-1", Token: "T", Enabled: true}

	require.NoError(t, svc.HandleUpdate(context.Background(), bot, decode(t, carPost)))
	require.Len(t, inv.drafts, 1)
	d := inv.drafts[0]
	assert.Equal(t, "Test Channel", d.Title)
	assert.Equal(t, "50000 USD", d.Price)
	assert.Equal(t, "https://t.me/c/123/123", d.URL)
	assert.Equal(t, inventory.StatusPending, d.Status)
	assert.Equal(t, "-100123", d.Destination)
	assert.EqualValues(t, 123, d.MessageID)
	assert.Equal(t, 2020, d.Metadata["parsedYear"])
	assert.Equal(t, 10000, d.Metadata["parsedMileage"])
	assert.Equal(t, "/media/bot-1/image/ab12/ab12cd.jpg", d.Metadata["thumbnail"])
	require.Len(t, fetched.urls, 1)
	assert.Contains(t, fetched.urls[0], "big")
}

func TestHandleUpdate_PhotoFallsBackToFileID(t *testing.T) {
	t.Parallel()

	inv := &fakeInventory{}
	svc := NewService(nil, Deps{Drafts: inv, Files: fakeFiles{err: errors.New("getFile failed")}, Media: &fakeMedia{}})
	require.NoError(t, svc.HandleUpdate(context.Background(), bots.Bot{ID: "bot-1"}, decode(t, carPost)))
	require.Len(t, inv.drafts, 1)
	assert.Equal(t, "tg_file_id:big", inv.drafts[0].Metadata["thumbnail"])
}

func TestHandleUpdate_NonListingPostIgnored(t *testing.T) {
	t.Parallel()

	inv := &fakeInventory{}
	svc := NewService(nil, Deps{Drafts: inv})
	for _, body := range []string{
		`{"update_id":2,"channel_post":{"message_id":124,"date":1,"chat":{"id":-100123,"type":"channel"},"text":"Hello world"}}`,
		`{"update_id":3,"channel_post":{"message_id":125,"date":1,"chat":{"id":-100123,"type":"channel"},"text":"Ціна $5000"}}`,
		`{"update_id":4,"channel_post":{"message_id":126,"date":1,"chat":{"id":-100123,"type":"channel"}}}`,
	} {
		require.NoError(t, svc.HandleUpdate(context.Background(), bots.Bot{ID: "bot-1"}, decode(t, body)))
	}
	assert.Empty(t, inv.drafts)
}

func TestHandleUpdate_Membership(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		wantType string
	}{
		{
			name:     "channel admin",
			body:     `{"update_id":5,"my_chat_member":{"chat":{"id":-100777,"type":"channel","title":"Cars UA"},"from":{"id":1},"date":1,"old_chat_member":{"status":"left","user":{"id":9}},"new_chat_member":{"status":"administrator","user":{"id":9}}}}`,
			wantType: inventory.DestinationChannel,
		},
		{
			name:     "supergroup member",
			body:     `{"update_id":6,"my_chat_member":{"chat":{"id":-100888,"type":"supergroup"},"from":{"id":1},"date":1,"old_chat_member":{"status":"left","user":{"id":9}},"new_chat_member":{"status":"member","user":{"id":9}}}}`,
			wantType: inventory.DestinationGroup,
		},
		{
			name: "kicked",
			body: `{"update_id":7,"my_chat_member":{"chat":{"id":-100999,"type":"channel"},"from":{"id":1},"date":1,"old_chat_member":{"status":"administrator","user":{"id":9}},"new_chat_member":{"status":"kicked","user":{"id":9}}}}`,
		},
		{
			name: "private chat",
			body: `{"update_id":8,"my_chat_member":{"chat":{"id":42,"type":"private"},"from":{"id":42},"date":1,"old_chat_member":{"status":"left","user":{"id":9}},"new_chat_member":{"status":"member","user":{"id":9}}}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			inv := &fakeInventory{}
			svc := NewService(nil, Deps{Destinations: inv})
			require.NoError(t, svc.HandleUpdate(context.Background(), bots.Bot{ID: "bot-1"}, decode(t, tt.body)))
			if tt.wantType == "" {
				assert.Empty(t, inv.destinations)
				return
			}
			require.Len(t, inv.destinations, 1)
			dest := inv.destinations[0]
			assert.Equal(t, tt.wantType, dest.Type)
			assert.Equal(t, "dest_"+dest.Identifier, dest.ID)
			assert.True(t, dest.Verified)
			assert.Equal(t, []string{"imported"}, dest.Tags)
			assert.NotEmpty(t, dest.Name)
		})
	}
}

func TestStage_DivertsIngestionKinds(t *testing.T) {
	t.Parallel()

	inv := &fakeInventory{}
	svc := NewService(nil, Deps{Drafts: inv})
	routed := 0
	handler := pipeline.Compose(svc.Stage(), func(context.Context, pipeline.State, pipeline.Next) error {
		routed++
		return nil
	})
	bot := bots.Bot{ID: "bot-1", Enabled: true}

	require.NoError(t, handler(context.Background(), pipeline.State{Bot: bot, Update: decode(t, carPost)}))
	require.NoError(t, handler(context.Background(), pipeline.State{Bot: bot, Update: decode(t, carPost), Duplicate: true}))
	require.NoError(t, handler(context.Background(), pipeline.State{Bot: bot, Update: decode(t,
		`{"update_id":9,"message":{"message_id":1,"date":1,"chat":{"id":42,"type":"private"},"text":"hi"}}`)}))

	assert.Len(t, inv.drafts, 1, "duplicate delivery must not create a second draft")
	assert.Equal(t, 1, routed, "only the chat message reaches the router")
}

func TestHandleParsed(t *testing.T) {
	t.Parallel()

	inv := &fakeInventory{}
	svc := NewService(nil, Deps{Listings: inv, Detector: tableDetector{"brand": "Toyota", "model": "Camry"}})
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

	src := inventory.ChannelSource{
		ID:          "src-1",
		CompanyID:   "co-fallback",
		ImportRules: inventory.ImportRules{AutoPublish: true, MapTo: inventory.MapTo{Location: "Kyiv"}},
		Connector:   inventory.Connector{ID: "conn-1", CompanyID: "co-1", Status: inventory.ConnectorReady},
	}
	date := time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC)
	msg := ParsedMessage{
		ChatID:        "-1001234",
		MessageID:     77,
		Text:          "Toyota Camry 2018, $15 500, 90 000 km",
		Date:          date,
		MediaURLs:     []string{"/media/a.jpg"},
		MediaGroupKey: "g-1",
	}
	require.NoError(t, svc.HandleParsed(context.Background(), src, msg))
	require.NoError(t, svc.HandleParsed(context.Background(), src, msg))
	require.Len(t, inv.listings, 1)

	l := inv.listings[0]
	assert.Equal(t, "co-1", l.CompanyID)
	assert.Equal(t, "Toyota Camry", l.Title)
	assert.Equal(t, 2018, l.Year)
	assert.Equal(t, 15500, l.Price)
	assert.Equal(t, 90000, l.Mileage)
	assert.Equal(t, "Kyiv", l.Location)
	assert.Equal(t, inventory.StatusAvailable, l.Status)
	assert.Equal(t, inventory.SourceMTProto, l.Source)
	assert.Equal(t, "https://t.me/c/1234/77", l.SourceURL)
	assert.Equal(t, "/media/a.jpg", l.Thumbnail)
	assert.Equal(t, date, l.PostedAt)
	assert.Equal(t, "src-1", l.OriginalRaw["channelSourceId"])
}

func TestHandleParsed_FilteredAndDefaults(t *testing.T) {
	t.Parallel()

	inv := &fakeInventory{}
	svc := NewService(nil, Deps{Listings: inv})
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	strict := inventory.ChannelSource{ID: "src-1", ImportRules: inventory.ImportRules{MinPrice: 50000}}
	require.NoError(t, svc.HandleParsed(context.Background(), strict, ParsedMessage{ChatID: "-1001", MessageID: 1, Text: "Kia Rio $9000"}))
	assert.Empty(t, inv.listings)

	open := inventory.ChannelSource{ID: "src-2", CompanyID: "co-2"}
	require.NoError(t, svc.HandleParsed(context.Background(), open, ParsedMessage{ChatID: "-1001", MessageID: 2, Text: "Продам авто"}))
	require.Len(t, inv.listings, 1)
	l := inv.listings[0]
	assert.Equal(t, "co-2", l.CompanyID)
	assert.Equal(t, now.Year(), l.Year)
	assert.Equal(t, "USD", l.Currency)
	assert.Equal(t, inventory.StatusPending, l.Status)
	assert.Equal(t, now, l.PostedAt)
}

package tradablebits

import (
	"context"
	"net/http"
	"testing"

	"github.com/catnip-data/catnip/internal/testutil"
	"github.com/catnip-data/catnip/pkg/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, mock *testutil.MockAPI, store checkpoint.Store) *Client {
	t.Helper()
	client, err := New(Config{
		APIKey:      "key",
		APISecret:   "secret",
		BaseURL:     mock.URL(),
		Checkpoints: store,
	})
	require.NoError(t, err)
	return client
}

func TestCampaignsSingleFetch(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/campaigns", testutil.NewJSONResponse(`{"data": [{"campaign_id": 1}, {"campaign_id": 2}]}`))

	client := newTestClient(t, mock, nil)
	table, err := client.Campaigns(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, table.NumRows())
	assert.Equal(t, 1, mock.PathCount("/campaigns"))
	assert.Equal(t, "key", mock.LastRequestHeader.Get("Api-Key"))
	assert.Equal(t, "secret", mock.LastRequestHeader.Get("Api-Secret"))
}

func TestFansFollowSearchSession(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.SetHandler("/fans", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("search_uid") {
		case "":
			w.Write([]byte(`{"data": [{"fan_id": 1}], "meta": {"search_uid": "s-1"}}`))
		case "s-1":
			w.Write([]byte(`{"data": [{"fan_id": 2}], "meta": {"search_uid": "s-1"}}`))
		default:
			w.Write([]byte(`{"data": [], "meta": {"search_uid": "s-1"}}`))
		}
	})

	client := newTestClient(t, mock, nil)
	table, err := client.Fans(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, table.NumRows())
}

func TestActivitiesResumeFromCheckpoint(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	var seen []string
	mock.SetHandler("/activities", func(w http.ResponseWriter, r *http.Request) {
		cursor := r.URL.Query().Get("min_activity_id")
		seen = append(seen, cursor)
		w.Header().Set("Content-Type", "application/json")
		if cursor == "500" {
			w.Write([]byte(`{"data": [{"activity_id": 600}], "meta": {"max_activity_id": 600}}`))
			return
		}
		w.Write([]byte(`{"data": [], "meta": {"max_activity_id": 600}}`))
	})

	store := checkpoint.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), "tradablebits_max_activity_id", "500"))

	client := newTestClient(t, mock, store)
	table, err := client.Activities(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 1, table.NumRows())
	assert.Equal(t, []string{"500", "600"}, seen, "walk must resume from the checkpointed cursor")

	// Clean termination saves the last produced cursor.
	saved, err := store.Load(context.Background(), "tradablebits_max_activity_id")
	require.NoError(t, err)
	assert.Equal(t, "600", saved)
}

func TestActivitiesSinceIDWithoutCheckpoints(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	var first string
	mock.SetHandler("/activities", func(w http.ResponseWriter, r *http.Request) {
		if first == "" {
			first = r.URL.Query().Get("min_activity_id")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": [], "meta": {"max_activity_id": 0}}`))
	})

	client := newTestClient(t, mock, nil)
	_, err := client.Activities(context.Background(), "123")
	require.NoError(t, err)

	assert.Equal(t, "123", first)
}

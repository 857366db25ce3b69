package blinkfire

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/catnip-data/catnip/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, mock *testutil.MockAPI) *Client {
	t.Helper()
	client, err := New(Config{
		Token:       "bf-token",
		EntityID:    "panthers",
		EntityGroup: "nhl",
		BaseURL:     mock.URL(),
	})
	require.NoError(t, err)
	return client
}

func TestBrandsFollowsNextPageCursor(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	var (
		mu      sync.Mutex
		queries []string
	)
	mock.SetHandler("/brands", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.Query().Get("cursor"))
		mu.Unlock()

		assert.Equal(t, "Bearer bf-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("cursor") == "" {
			assert.Equal(t, "panthers", r.URL.Query().Get("sponsoring"))
			w.Write([]byte(`{"brands": [{"id": "b1"}], "next_page": "p2"}`))
			return
		}
		w.Write([]byte(`{"brands": [{"id": "b2"}]}`))
	})

	client := newTestClient(t, mock)
	table, err := client.Brands(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, table.NumRows())
	assert.Equal(t, []string{"", "p2"}, queries)
}

func TestAudiencesFansOutPerDay(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	var (
		mu   sync.Mutex
		days []string
	)
	mock.SetHandler("/audiences/panthers", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		days = append(days, r.URL.Query().Get("day"))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"day": "%s", "mediums": []}`, r.URL.Query().Get("day"))
	})

	client := newTestClient(t, mock)
	docs, err := client.Audiences(context.Background(), []time.Time{
		time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.Len(t, docs, 2)
	assert.Equal(t, []string{"2026-02-01", "2026-02-02"}, days)
	assert.Equal(t, "2026-02-01", docs[0]["day"])
}

func TestDemographicsChannelCoversAllMediums(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	var (
		mu      sync.Mutex
		mediums []string
	)
	mock.SetHandler("/demographics/channel", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		mediums = append(mediums, r.URL.Query().Get("medium_name"))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"channels": []}`))
	})

	client := newTestClient(t, mock)
	docs, err := client.DemographicsChannel(context.Background(), []time.Time{
		time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Len(t, docs, 3)
	assert.Equal(t, []string{"facebook", "twitter", "instagram"}, mediums)
}

func TestStreamingReportRejectsUnknownMedium(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	client := newTestClient(t, mock)
	_, err := client.StreamingReport(context.Background(), []time.Time{time.Now()}, "vine")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported streaming medium")
}

// A continuation request for posts carries only cursor and limit, never
// the first request's entity and date parameters.
func TestPostsContinuationDropsFirstPageParams(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.SetHandler("/posts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("cursor") == "" {
			w.Write([]byte(`{"posts": [{"id": 1}], "next_page": "cur2"}`))
			return
		}
		assert.Empty(t, r.URL.Query().Get("entity"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"posts": [{"id": 2}]}`))
	})

	client := newTestClient(t, mock)
	docs, err := client.Posts(context.Background(), []time.Time{
		time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Len(t, docs, 2)
	assert.Equal(t, 2, mock.PathCount("/posts"))
}

func TestGlobalRankingReportRequiresEntityGroup(t *testing.T) {
	client, err := New(Config{Token: "t", EntityID: "e"})
	require.NoError(t, err)

	_, err = client.GlobalRankingReport(context.Background(), []time.Time{time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entity group is required")
}

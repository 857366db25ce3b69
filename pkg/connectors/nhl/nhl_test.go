package nhl

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/catnip-data/catnip/internal/testutil"
	"github.com/catnip-data/catnip/pkg/fetch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, mock *testutil.MockAPI) *Client {
	t.Helper()
	client, err := New(Config{
		BaseURL: mock.URL(),
		Retry:   fetch.FixedDelayRetryConfig(3, time.Millisecond),
	})
	require.NoError(t, err)
	return client
}

func TestTeamsExtractsKeyedList(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/teams", testutil.NewJSONResponse(
		`{"teams": [{"id": 13, "name": "Florida Panthers"}, {"id": 14, "name": "Tampa Bay Lightning"}]}`))

	client := newTestClient(t, mock)
	table, err := client.Teams(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, table.NumRows())
	assert.Equal(t, "Florida Panthers", table.Rows[0]["name"])
}

func TestGameTypesReadsBareList(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/gameTypes", testutil.NewJSONResponse(
		`[{"id": "R", "description": "Regular season"}, {"id": "P", "description": "Playoffs"}]`))

	client := newTestClient(t, mock)
	table, err := client.GameTypes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, table.NumRows())
}

func TestScheduleUnnestsGames(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetHandler("/schedule", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2026-01-15", r.URL.Query().Get("date"))
		assert.Equal(t, "R", r.URL.Query().Get("gameType"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"dates": [{"date": "2026-01-15", "games": [{"gamePk": 1}, {"gamePk": 2}]}]}`))
	})

	client := newTestClient(t, mock)
	table, err := client.Schedule(context.Background(), time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC), "R")
	require.NoError(t, err)

	assert.Equal(t, 2, table.NumRows())
	assert.Equal(t, float64(1), table.Rows[0]["gamePk"])
}

func TestScheduleEmptyDay(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/schedule", testutil.NewJSONResponse(`{"dates": []}`))

	client := newTestClient(t, mock)
	table, err := client.Schedule(context.Background(), time.Date(2026, 7, 4, 0, 0, 0, 0, time.UTC), "R")
	require.NoError(t, err)
	assert.Equal(t, 0, table.NumRows())
}

func TestBoxscoreReturnsDocument(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/game/2026020001/boxscore", testutil.NewJSONResponse(
		`{"teams": {"home": {"goals": 3}, "away": {"goals": 1}}}`))

	client := newTestClient(t, mock)
	doc, err := client.Boxscore(context.Background(), "2026020001")
	require.NoError(t, err)
	assert.Contains(t, doc, "teams")
}

func TestTeamsRecoversFromTransientError(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetSequence("/teams",
		testutil.NewServerErrorResponse(),
		testutil.NewJSONResponse(`{"teams": [{"id": 13}]}`))

	client := newTestClient(t, mock)
	table, err := client.Teams(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, table.NumRows())
	assert.Equal(t, 2, mock.PathCount("/teams"))
}

package cheq

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/catnip-data/catnip/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	client, err := New(Config{APIKey: "key"})
	require.NoError(t, err)
	assert.Equal(t, 1000, client.cfg.MaxPages)
}

func TestSalesPagesUntilEndFlag(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.SetHandler("/orders", func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		end := page == "3"
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"results": [{"order": "%s-1"}, {"order": "%s-2"}], "end": %t}`, page, page, end)
	})

	client, err := New(Config{APIKey: "key", BaseURL: mock.URL()})
	require.NoError(t, err)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	table, err := client.Sales(context.Background(), start, end, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, mock.PathCount("/orders"), "stop right after the end flag")
	assert.Equal(t, 6, table.NumRows())
}

func TestSalesSendsDateRangeBody(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	var body map[string]any
	mock.SetHandler("/orders", func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results": [], "end": true}`))
	})

	client, err := New(Config{APIKey: "secret", BaseURL: mock.URL()})
	require.NoError(t, err)

	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	_, err = client.Sales(context.Background(), start, end, []int{1, 4})
	require.NoError(t, err)

	assert.Equal(t, "2026-02-01T00:00:00Z", body["start_range"])
	assert.Equal(t, "2026-02-02T00:00:00Z", body["end_range"])
	assert.Equal(t, []any{float64(1), float64(4)}, body["payment_status"])
	assert.Equal(t, "secret", mock.LastRequestHeader.Get("x-api-key"))
}

func TestSalesMissingEndFlagIsHardFailure(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/orders", testutil.NewJSONResponse(`{"results": []}`))

	client, err := New(Config{APIKey: "key", BaseURL: mock.URL()})
	require.NoError(t, err)

	_, err = client.Sales(context.Background(), time.Now().Add(-time.Hour), time.Now(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "end flag missing")
}

func TestMenuOneRowPerPage(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.SetHandler("/menus", func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		end := page == "2"
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"results": {"menu": "m%s"}, "end": %t}`, page, end)
	})

	client, err := New(Config{APIKey: "key", BaseURL: mock.URL()})
	require.NoError(t, err)

	table, err := client.Menu(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, table.NumRows())
	assert.Equal(t, "m1", table.Rows[0]["menu"])
	assert.Equal(t, "m2", table.Rows[1]["menu"])
}

package gameday

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/catnip-data/catnip/internal/testutil"
	"github.com/catnip-data/catnip/pkg/tabular"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func members(n int) []tabular.Record {
	out := make([]tabular.Record, n)
	for i := range out {
		out[i] = tabular.Record{"email": fmt.Sprintf("m%d@example.com", i)}
	}
	return out
}

func TestPostMembersBatches(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	var (
		mu     sync.Mutex
		sizes  []int
		apiKey string
	)
	mock.SetHandler("/add-members", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Members []tabular.Record `json:"members"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		sizes = append(sizes, len(body.Members))
		apiKey = r.Header.Get("x-api-key")
		mu.Unlock()
		w.Write([]byte(`{"status": "ok"}`))
	})

	client, err := New(Config{APIKey: "gd-key", BaseURL: mock.URL(), BatchSize: 100})
	require.NoError(t, err)

	results, err := client.PostMembers(context.Background(), members(250))
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, []int{100, 100, 50}, sizes)
	assert.Equal(t, "gd-key", apiKey)
	for _, result := range results {
		assert.True(t, result.OK())
	}
}

func TestPostMembersFailedBatchDoesNotStopLaterBatches(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	var (
		mu     sync.Mutex
		served int
	)
	mock.SetHandler("/add-members", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		served++
		batch := served
		mu.Unlock()
		if batch == 2 {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"error": "bad records"}`))
			return
		}
		w.Write([]byte(`{"status": "ok"}`))
	})

	client, err := New(Config{APIKey: "gd-key", BaseURL: mock.URL(), BatchSize: 10})
	require.NoError(t, err)

	results, err := client.PostMembers(context.Background(), members(30))
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.True(t, results[0].OK())
	assert.False(t, results[1].OK())
	assert.Equal(t, http.StatusUnprocessableEntity, results[1].StatusCode)
	assert.True(t, results[2].OK(), "the batch after the failure must still run")
	assert.Equal(t, 3, mock.PathCount("/add-members"))
}

func TestPostMembersEmptyInputFails(t *testing.T) {
	client, err := New(Config{APIKey: "gd-key"})
	require.NoError(t, err)

	_, err = client.PostMembers(context.Background(), nil)
	require.Error(t, err)
}

package asana

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/catnip-data/catnip/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTaskPostsProjectScopedTask(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	var (
		mu   sync.Mutex
		body map[string]any
	)
	mock.SetHandler("/tasks", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer asana-pat", r.Header.Get("Authorization"))

		var decoded map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&decoded))
		mu.Lock()
		body = decoded
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data": {"gid": "task-1", "name": "Feed gap: ticket sales"}}`))
	})

	client, err := New(Config{Token: "asana-pat", ProjectID: "proj-9", BaseURL: mock.URL()})
	require.NoError(t, err)

	created, err := client.CreateTask(context.Background(), Task{
		Name:      "Feed gap: ticket sales",
		HTMLNotes: "<body>No rows since yesterday.</body>",
		DueOn:     "2026-05-01",
	})
	require.NoError(t, err)

	assert.Equal(t, "task-1", created["gid"])

	data := body["data"].(map[string]any)
	assert.Equal(t, "Feed gap: ticket sales", data["name"])
	assert.Equal(t, "2026-05-01", data["due_on"])
	assert.Equal(t, []any{"proj-9"}, data["projects"])
}

func TestCreateTaskRequiresName(t *testing.T) {
	client, err := New(Config{Token: "t", ProjectID: "p"})
	require.NoError(t, err)

	_, err = client.CreateTask(context.Background(), Task{DueOn: "2026-05-01"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task name is required")
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{ProjectID: "p"})
	require.Error(t, err)

	_, err = New(Config{Token: "t"})
	require.Error(t, err)
}

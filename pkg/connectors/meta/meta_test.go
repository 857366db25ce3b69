package meta

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/catnip-data/catnip/internal/testutil"
	"github.com/catnip-data/catnip/pkg/checkpoint"
	"github.com/catnip-data/catnip/pkg/connectors"
	"github.com/catnip-data/catnip/pkg/tabular"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, mock *testutil.MockAPI, store checkpoint.Store) *Client {
	t.Helper()
	client, err := New(Config{
		AppID:       "app-1",
		AppSecret:   "shh",
		AccessToken: "tok",
		AdAccountID: "act_42",
		BaseURL:     mock.URL(),
		BatchSize:   2,
		Tokens:      store,
	})
	require.NoError(t, err)
	return client
}

func emailTable(emails ...string) *tabular.Table {
	rows := make([]tabular.Record, len(emails))
	for i, email := range emails {
		rows[i] = tabular.Record{"email": email}
	}
	return &tabular.Table{Columns: []string{"email"}, Rows: rows}
}

func TestNewDerivesAppsecretProof(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	client := newTestClient(t, mock, nil)

	mac := hmac.New(sha256.New, []byte("shh"))
	mac.Write([]byte("tok"))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), client.proof)
}

func TestUploadUsersHashesAndBatches(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	type payload struct {
		Schema []string   `json:"schema"`
		Data   [][]string `json:"data"`
	}
	var (
		mu       sync.Mutex
		payloads []payload
	)
	mock.SetHandler("/v20.0/aud1/users", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		var p payload
		require.NoError(t, json.Unmarshal([]byte(r.PostForm.Get("payload")), &p))
		mu.Lock()
		payloads = append(payloads, p)
		mu.Unlock()
		w.Write([]byte(`{"num_received": 2}`))
	})

	client := newTestClient(t, mock, nil)
	results, err := client.UploadUsers(context.Background(), "aud1", emailTable("a@x.com", "b@x.com", "c@x.com"))
	require.NoError(t, err)

	require.Len(t, results, 2, "3 rows at batch size 2 is 2 batches")
	assert.Equal(t, 0, connectors.Failed(results))

	require.Len(t, payloads, 2)
	assert.Equal(t, []string{"EMAIL"}, payloads[0].Schema)

	wantHash := sha256.Sum256([]byte("a@x.com"))
	assert.Equal(t, hex.EncodeToString(wantHash[:]), payloads[0].Data[0][0], "values must be SHA-256 hashed")
}

func TestUploadUsersFailedBatchDoesNotStopLaterBatches(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	var (
		mu     sync.Mutex
		served int
	)
	mock.SetHandler("/v20.0/aud1/users", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		served++
		batch := served
		mu.Unlock()
		if batch == 2 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": {"message": "invalid rows"}}`))
			return
		}
		w.Write([]byte(`{"num_received": 2}`))
	})

	client := newTestClient(t, mock, nil)
	results, err := client.UploadUsers(context.Background(), "aud1",
		emailTable("a@x.com", "b@x.com", "c@x.com", "d@x.com", "e@x.com"))
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.True(t, results[0].OK())
	assert.False(t, results[1].OK())
	assert.Equal(t, http.StatusBadRequest, results[1].StatusCode)
	assert.True(t, results[2].OK(), "the batch after the failure must still run")
}

func TestReplaceUsersThreadsSession(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	type session struct {
		SessionID     int64  `json:"session_id"`
		BatchSeq      int    `json:"batch_seq"`
		LastBatchFlag string `json:"last_batch_flag"`
	}
	var (
		mu       sync.Mutex
		sessions []session
	)
	mock.SetHandler("/v20.0/aud1/usersreplace", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		var s session
		require.NoError(t, json.Unmarshal([]byte(r.PostForm.Get("session")), &s))
		mu.Lock()
		sessions = append(sessions, s)
		mu.Unlock()
		w.Write([]byte(`{"num_received": 2}`))
	})

	client := newTestClient(t, mock, nil)
	results, err := client.ReplaceUsers(context.Background(), "aud1",
		emailTable("a@x.com", "b@x.com", "c@x.com"))
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Len(t, sessions, 2)
	assert.Equal(t, sessions[0].SessionID, sessions[1].SessionID)
	assert.Equal(t, 1, sessions[0].BatchSeq)
	assert.Equal(t, "false", sessions[0].LastBatchFlag)
	assert.Equal(t, 2, sessions[1].BatchSeq)
	assert.Equal(t, "true", sessions[1].LastBatchFlag)
}

func TestCacheLongLivedToken(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/v20.0/oauth/access_token", testutil.NewJSONResponse(`{"access_token": "long-tok"}`))

	store := checkpoint.NewMemoryStore()
	client := newTestClient(t, mock, store)

	require.NoError(t, client.CacheLongLivedToken(context.Background()))

	token, err := store.Load(context.Background(), defaultTokenName)
	require.NoError(t, err)
	assert.Equal(t, "long-tok", token)
}

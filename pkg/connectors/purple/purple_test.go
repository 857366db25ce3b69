package purple

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/catnip-data/catnip/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVisitorsSignsRequest(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	var (
		mu      sync.Mutex
		headers http.Header
		rawQ    string
	)
	mock.SetHandler("/visitors", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		headers = r.Header.Clone()
		rawQ = r.URL.RawQuery
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": {"visitors": [{"id": 1}]}}`))
	})

	client, err := New(Config{
		PublicKey:  "pub",
		PrivateKey: "priv",
		BaseURL:    mock.URL(),
	})
	require.NoError(t, err)

	fixed := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
	client.now = func() time.Time { return fixed }

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)

	doc, err := client.Visitors(context.Background(), start, end)
	require.NoError(t, err)
	assert.Contains(t, doc, "data")

	assert.Equal(t, "from=20260301&to=20260331", rawQ)

	wantDate := "Wed, 01 Apr 2026 09:30:00 GMT"
	assert.Equal(t, wantDate, headers.Get("Date"))

	// Recompute the signature over what was actually sent.
	parsed, err := url.Parse(mock.URL())
	require.NoError(t, err)
	payload := strings.Join([]string{
		"application/json",
		parsed.Hostname(),
		"/visitors?from=20260301&to=20260331",
		wantDate,
		"",
		"",
	}, "\n")
	mac := hmac.New(sha256.New, []byte("priv"))
	mac.Write([]byte(payload))
	want := "pub:" + hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, headers.Get("X-API-Authorization"))
}

func TestNewRequiresKeys(t *testing.T) {
	_, err := New(Config{PublicKey: "pub", VenueID: 9})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keys are required")
}

func TestNewBuildsVenueURL(t *testing.T) {
	client, err := New(Config{PublicKey: "pub", PrivateKey: "priv", VenueID: 42})
	require.NoError(t, err)
	assert.Equal(t, "https://region1.purpleportal.net/api/company/v1/venue/42", client.cfg.BaseURL)
}

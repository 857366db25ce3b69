package fetch

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/catnip-data/catnip/internal/testutil"
)

// testRetry keeps test backoff short.
func testRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    5 * time.Millisecond,
		MaxBackoff:        20 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func newTestFetcher(t *testing.T, attempts int) *Fetcher {
	t.Helper()
	f, err := New(Config{
		Connector: "test",
		Retry:     testRetry(attempts),
		UserAgent: "catnip-test/0.1",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return f
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Connector: "formstack"}, false},
		{"missing_connector", Config{}, true},
		{"negative_attempts", Config{Connector: "x", Retry: RetryConfig{MaxAttempts: -1}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDoSuccess(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/v1/forms", testutil.NewJSONResponse(`{"forms": [{"id": 1}]}`))

	fetcher := newTestFetcher(t, 3)
	page, err := fetcher.Do(context.Background(), NewRequest("GET", mock.URL()+"/v1/forms"))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	if page.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", page.StatusCode)
	}

	doc, err := page.Object()
	if err != nil {
		t.Fatalf("Object() error = %v", err)
	}
	if _, ok := doc["forms"]; !ok {
		t.Error("Expected forms key in decoded body")
	}

	if got := mock.GetRequestCount(); got != 1 {
		t.Errorf("Request count = %d, want 1", got)
	}
}

// A flaky endpoint that fails three times with 503 then recovers must
// succeed on the fourth attempt without caller intervention.
func TestDoRecoversFromTransientServerErrors(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetSequence("/v1/sales",
		testutil.NewServerErrorResponse(),
		testutil.NewServerErrorResponse(),
		testutil.NewServerErrorResponse(),
		testutil.NewJSONResponse(`{"data": []}`),
	)

	fetcher := newTestFetcher(t, 4)
	page, err := fetcher.Do(context.Background(), NewRequest("GET", mock.URL()+"/v1/sales"))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if page.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", page.StatusCode)
	}
	if got := mock.PathCount("/v1/sales"); got != 4 {
		t.Errorf("Request count = %d, want 4 (3 failures + 1 success)", got)
	}
}

func TestDoClientErrorIsNotRetried(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/v1/missing", testutil.NewNotFoundResponse())

	fetcher := newTestFetcher(t, 4)
	_, err := fetcher.Do(context.Background(), NewRequest("GET", mock.URL()+"/v1/missing"))
	if err == nil {
		t.Fatal("Expected error for 404 response")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %T: %v", err, err)
	}
	if apiErr.Class != ErrorClassClient {
		t.Errorf("Class = %s, want client", apiErr.Class)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", apiErr.StatusCode)
	}

	if got := mock.PathCount("/v1/missing"); got != 1 {
		t.Errorf("Request count = %d, want 1 (no retry on 4xx)", got)
	}
}

func TestDoRateLimitIsRetried(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetSequence("/v1/items",
		testutil.NewRateLimitResponse(),
		testutil.NewJSONResponse(`{"items": []}`),
	)

	fetcher := newTestFetcher(t, 3)
	_, err := fetcher.Do(context.Background(), NewRequest("GET", mock.URL()+"/v1/items"))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got := mock.PathCount("/v1/items"); got != 2 {
		t.Errorf("Request count = %d, want 2", got)
	}
}

func TestDoRetryExhausted(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/v1/broken", testutil.NewServerErrorResponse())

	fetcher := newTestFetcher(t, 3)
	_, err := fetcher.Do(context.Background(), NewRequest("GET", mock.URL()+"/v1/broken"))
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Expected ErrRetryExhausted, got %v", err)
	}
	if got := mock.PathCount("/v1/broken"); got != 3 {
		t.Errorf("Request count = %d, want 3", got)
	}
}

func TestDoNetworkError(t *testing.T) {
	mock := testutil.NewMockAPI()
	url := mock.URL()
	mock.Close() // connection refused from here on

	fetcher := newTestFetcher(t, 2)
	_, err := fetcher.Do(context.Background(), NewRequest("GET", url+"/v1/anything"))
	if err == nil {
		t.Fatal("Expected error for unreachable server")
	}
	if Classify(err) != ErrorClassNetwork {
		t.Errorf("Classify = %s, want network", Classify(err))
	}
}

func TestDoSendsUserAgent(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	fetcher := newTestFetcher(t, 2)
	_, err := fetcher.Do(context.Background(), NewRequest("GET", mock.URL()+"/v1/ping"))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	if got := mock.LastRequestHeader.Get("User-Agent"); got != "catnip-test/0.1" {
		t.Errorf("User-Agent = %q, want catnip-test/0.1", got)
	}
}

func TestPageJSONMalformed(t *testing.T) {
	page := &Page{
		StatusCode: http.StatusOK,
		Body:       []byte(`<html>Bad Gateway</html>`),
	}

	var doc map[string]any
	err := page.JSON(&doc)
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("Expected ErrMalformedPayload, got %v", err)
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{429, ErrorClassRateLimit},
		{400, ErrorClassClient},
		{404, ErrorClassClient},
		{403, ErrorClassClient},
		{500, ErrorClassServer},
		{503, ErrorClassServer},
		{502, ErrorClassServer},
	}

	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.want {
			t.Errorf("classifyStatus(%d) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

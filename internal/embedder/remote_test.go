package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

// embeddingServer answers with one 2-d vector per input, in reverse index
// order, after failing the first `failures` calls with status.
func embeddingServer(t *testing.T, failures int32, status int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if n <= failures {
			w.WriteHeader(status)
			_, _ = w.Write([]byte("try later"))
			return
		}

		var req apiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var resp apiResponse
		resp.Model = req.Model
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: []float32{float32(i), 1}, Index: i})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestRemote(t *testing.T, url string, cache *Cache) *RemoteProvider {
	t.Helper()
	p, err := NewRemoteProvider(RemoteConfig{
		Name: "test", Endpoint: url, APIKey: "test-key", Model: "m1", Dimension: 2,
		Cache: cache, Retry: fastRetry(), Logger: zap.NewNop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestRemoteProviderBatchOrder(t *testing.T) {
	var calls atomic.Int32
	srv := embeddingServer(t, 0, 0, &calls)
	defer srv.Close()

	p := newTestRemote(t, srv.URL, nil)
	resp, err := p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"a", "b", "c"}})
	if err != nil {
		t.Fatal(err)
	}
	for i, emb := range resp.Embeddings {
		if emb.Vector[0] != float32(i) {
			t.Errorf("embedding %d out of order: %v", i, emb.Vector)
		}
		if emb.Provider != "test" || emb.Model != "m1" {
			t.Errorf("unexpected provenance %s/%s", emb.Provider, emb.Model)
		}
	}
}

func TestRemoteProviderCaching(t *testing.T) {
	var calls atomic.Int32
	srv := embeddingServer(t, 0, 0, &calls)
	defer srv.Close()

	p := newTestRemote(t, srv.URL, NewCache(10))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "same"}); err != nil {
			t.Fatal(err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("api calls = %d, want 1", got)
	}
}

func TestRemoteProviderRetries(t *testing.T) {
	t.Run("retries server errors", func(t *testing.T) {
		var calls atomic.Int32
		srv := embeddingServer(t, 2, http.StatusServiceUnavailable, &calls)
		defer srv.Close()

		p := newTestRemote(t, srv.URL, nil)
		if _, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"}); err != nil {
			t.Fatalf("expected success after retries, got %v", err)
		}
		if got := calls.Load(); got != 3 {
			t.Errorf("api calls = %d, want 3", got)
		}
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		var calls atomic.Int32
		srv := embeddingServer(t, 10, http.StatusTooManyRequests, &calls)
		defer srv.Close()

		p := newTestRemote(t, srv.URL, nil)
		_, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"})
		if !errors.Is(err, ErrProviderFailed) {
			t.Fatalf("error = %v, want ErrProviderFailed", err)
		}
		if got := calls.Load(); got != 3 {
			t.Errorf("api calls = %d, want 3", got)
		}
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var calls atomic.Int32
		srv := embeddingServer(t, 10, http.StatusBadRequest, &calls)
		defer srv.Close()

		p := newTestRemote(t, srv.URL, nil)
		_, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"})
		var status *StatusError
		if !errors.As(err, &status) || status.Code != http.StatusBadRequest {
			t.Fatalf("error = %v, want StatusError 400", err)
		}
		if got := calls.Load(); got != 1 {
			t.Errorf("api calls = %d, want 1", got)
		}
	})
}

func TestRetryWithBackoffContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	_, err := retryWithBackoff(ctx, RetryConfig{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2},
		zap.NewNop(), func() (int, error) {
			attempts++
			cancel()
			return 0, errors.New("boom")
		})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestNewRemoteProviderRequiresKey(t *testing.T) {
	if _, err := NewRemoteProvider(RemoteConfig{Name: "x", Endpoint: "http://x", Model: "m", Dimension: 2}); !errors.Is(err, ErrNoProviderEnabled) {
		t.Errorf("error = %v, want ErrNoProviderEnabled", err)
	}
}

package audit

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhook_SuccessfulDelivery(t *testing.T) {
	var (
		mu       sync.Mutex
		received Entry
		auth     string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookHeader("Authorization: Bearer abc"), WithWebhookLogger(quietLogger()))
	wh.Enqueue(Entry{Seq: 7, Action: ActionSecretReveal, UserID: "u1", EntityType: "credential", EntityID: "c1"})
	wh.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, ActionSecretReveal, received.Action)
	assert.Equal(t, uint64(7), received.Seq)
	assert.Equal(t, "Bearer abc", auth)
}

func TestWebhook_RetryOn500(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookRetryDelay(time.Millisecond), WithWebhookLogger(quietLogger()))
	wh.Enqueue(Entry{Action: ActionLogout})
	wh.Close()
	assert.Equal(t, int32(2), attempts.Load())
}

func TestWebhook_NoRetryOn4xx(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookRetryDelay(time.Millisecond), WithWebhookLogger(quietLogger()))
	wh.Enqueue(Entry{Action: ActionLogout})
	wh.Close()
	assert.Equal(t, int32(1), attempts.Load())
}

func TestWebhook_CloseIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	wh := NewWebhook(srv.URL, WithWebhookLogger(quietLogger()))
	wh.Close()
	require.NotPanics(t, wh.Close)
}

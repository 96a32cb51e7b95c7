package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Sink receives every successfully recorded entry. Enqueue must not block.
type Sink interface {
	Enqueue(e Entry)
}

const webhookQueueSize = 1024

// Webhook POSTs entries as JSON to an external endpoint from a background
// goroutine. The queue is bounded; entries are dropped when it is full.
type Webhook struct {
	url        string
	header     string
	value      string
	client     *http.Client
	logger     *slog.Logger
	retryDelay time.Duration
	events     chan Entry
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

var _ Sink = (*Webhook)(nil)

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithWebhookHeader adds a "Name: Value" header to every request.
func WithWebhookHeader(h string) WebhookOption {
	return func(w *Webhook) {
		if name, value, ok := strings.Cut(h, ":"); ok {
			w.header, w.value = strings.TrimSpace(name), strings.TrimSpace(value)
		}
	}
}

// WithWebhookClient replaces the default HTTP client.
func WithWebhookClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

// WithWebhookLogger sets the logger for delivery failures.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) { w.logger = l }
}

// WithWebhookRetryDelay sets the pause before the single retry.
func WithWebhookRetryDelay(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.retryDelay = d }
}

// NewWebhook starts a dispatcher for url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default(),
		retryDelay: time.Second,
		events:     make(chan Entry, webhookQueueSize),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "audit_webhook")
	w.wg.Add(1)
	go w.loop()
	return w
}

func (w *Webhook) Enqueue(e Entry) {
	select {
	case w.events <- e:
	default:
		w.logger.Warn("queue full, dropping entry", "action", string(e.Action), "seq", e.Seq)
	}
}

// Close drains pending entries and stops the dispatcher.
func (w *Webhook) Close() {
	w.closeOnce.Do(func() {
		close(w.events)
		w.wg.Wait()
	})
}

func (w *Webhook) loop() {
	defer w.wg.Done()
	for e := range w.events {
		w.send(e)
	}
}

// send POSTs e with one retry on 5xx or transport errors.
func (w *Webhook) send(e Entry) {
	body, err := json.Marshal(e)
	if err != nil {
		w.logger.Warn("marshal failed", "error", err)
		return
	}

	for attempt := range 2 {
		if attempt > 0 {
			time.Sleep(w.retryDelay)
		}
		req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			w.logger.Warn("request creation failed", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "OpsVault-Audit-Webhook/1.0")
		if w.header != "" {
			req.Header.Set(w.header, w.value)
		}

		resp, err := w.client.Do(req)
		if err != nil {
			w.logger.Warn("request failed", "error", err, "attempt", attempt+1)
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return
		case resp.StatusCode >= 500:
			w.logger.Warn("server error", "status", resp.StatusCode, "attempt", attempt+1)
		default:
			w.logger.Warn("client error", "status", resp.StatusCode)
			return
		}
	}
}

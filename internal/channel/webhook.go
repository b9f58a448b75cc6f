package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/aimastermebjm-byte/azzahra-sync/internal/bus"
	"github.com/aimastermebjm-byte/azzahra-sync/internal/config"
	"github.com/aimastermebjm-byte/azzahra-sync/internal/diag"
)

const webhookChannelName = "webhook"

// eventTime accepts both RFC3339 strings and unix milliseconds, since
// bridge apps disagree on timestamp encoding.
type eventTime struct {
	time.Time
}

func (t *eventTime) UnmarshalJSON(data []byte) error {
	var ms int64
	if err := json.Unmarshal(data, &ms); err == nil {
		t.Time = time.UnixMilli(ms)
		return nil
	}
	return json.Unmarshal(data, &t.Time)
}

type eventPayload struct {
	SourceID string    `json:"sourceId"`
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	PostedAt eventTime `json:"postedAt"`
}

func (p eventPayload) raw() bus.RawEvent {
	return bus.RawEvent{
		SourceID: p.SourceID,
		Title:    p.Title,
		Body:     p.Body,
		PostedAt: p.PostedAt.Time,
	}
}

// WebhookChannel receives events pushed over HTTP by the phone-side
// bridge: single events, backlog batches on reconnect, and a read-only
// view of the diagnostic log for a local UI.
type WebhookChannel struct {
	BaseChannel
	host   string
	port   int
	diag   *diag.Bus
	server *http.Server
}

func NewWebhookChannel(cfg config.WebhookConfig, b *bus.EventBus, d *diag.Bus) (*WebhookChannel, error) {
	return &WebhookChannel{
		BaseChannel: NewBaseChannel(webhookChannelName, b, cfg.AllowFrom),
		host:        cfg.Host,
		port:        cfg.Port,
		diag:        d,
	}, nil
}

func (w *WebhookChannel) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/events", w.handleEvent)
	mux.HandleFunc("POST /v1/events/backlog", w.handleBacklog)
	mux.HandleFunc("GET /v1/logs", w.handleLogs)
	mux.HandleFunc("GET /healthz", func(wr http.ResponseWriter, r *http.Request) {
		wr.WriteHeader(http.StatusOK)
		_, _ = wr.Write([]byte("ok"))
	})
	return mux
}

func (w *WebhookChannel) Start(ctx context.Context) error {
	w.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", w.host, w.port),
		Handler: w.routes(),
	}

	go func() {
		log.Printf("[webhook] listening on %s", w.server.Addr)
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[webhook] server error: %v", err)
		}
	}()

	return nil
}

func (w *WebhookChannel) authorized(r *http.Request) bool {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return w.IsAllowed(token)
}

func (w *WebhookChannel) handleEvent(wr http.ResponseWriter, r *http.Request) {
	if !w.authorized(r) {
		http.Error(wr, "unauthorized", http.StatusUnauthorized)
		return
	}

	var payload eventPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(wr, "bad request", http.StatusBadRequest)
		return
	}
	if payload.SourceID == "" {
		http.Error(wr, "sourceId is required", http.StatusBadRequest)
		return
	}

	w.bus.Publish(payload.raw())
	wr.WriteHeader(http.StatusAccepted)
}

func (w *WebhookChannel) handleBacklog(wr http.ResponseWriter, r *http.Request) {
	if !w.authorized(r) {
		http.Error(wr, "unauthorized", http.StatusUnauthorized)
		return
	}

	var payloads []eventPayload
	if err := json.NewDecoder(r.Body).Decode(&payloads); err != nil {
		http.Error(wr, "bad request", http.StatusBadRequest)
		return
	}

	evs := make([]bus.RawEvent, 0, len(payloads))
	for _, p := range payloads {
		if p.SourceID == "" {
			continue
		}
		evs = append(evs, p.raw())
	}
	log.Printf("[webhook] backlog replay: %d event(s)", len(evs))
	w.bus.PublishBacklog(evs)

	wr.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(wr).Encode(map[string]int{"accepted": len(evs)})
}

func (w *WebhookChannel) handleLogs(wr http.ResponseWriter, r *http.Request) {
	if !w.authorized(r) {
		http.Error(wr, "unauthorized", http.StatusUnauthorized)
		return
	}
	wr.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(wr).Encode(w.diag.Recent())
}

func (w *WebhookChannel) Stop() error {
	if w.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown webhook server: %w", err)
		}
	}
	log.Printf("[webhook] stopped")
	return nil
}

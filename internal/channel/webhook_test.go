package channel

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aimastermebjm-byte/azzahra-sync/internal/bus"
	"github.com/aimastermebjm-byte/azzahra-sync/internal/config"
	"github.com/aimastermebjm-byte/azzahra-sync/internal/diag"
)

func newTestWebhook(t *testing.T, allowFrom []string) (*WebhookChannel, *bus.EventBus, *diag.Bus) {
	t.Helper()
	b := bus.NewEventBus(16)
	d := diag.NewBus(10)
	ch, err := NewWebhookChannel(config.WebhookConfig{AllowFrom: allowFrom}, b, d)
	if err != nil {
		t.Fatalf("NewWebhookChannel: %v", err)
	}
	return ch, b, d
}

func recvEvent(t *testing.T, b *bus.EventBus) bus.RawEvent {
	t.Helper()
	select {
	case ev := <-b.Inbound:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event arrived on the bus")
		return bus.RawEvent{}
	}
}

func TestWebhook_HandleEvent(t *testing.T) {
	ch, b, _ := newTestWebhook(t, nil)
	srv := httptest.NewServer(ch.routes())
	defer srv.Close()

	body := `{"sourceId":"com.bca.mybca","title":"BCA mobile","body":"Transfer masuk Rp 150.000","postedAt":1735689600000}`
	resp, err := http.Post(srv.URL+"/v1/events", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/events: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}

	ev := recvEvent(t, b)
	if ev.SourceID != "com.bca.mybca" {
		t.Errorf("SourceID = %q, want com.bca.mybca", ev.SourceID)
	}
	if ev.Body != "Transfer masuk Rp 150.000" {
		t.Errorf("Body = %q", ev.Body)
	}
	if got := ev.PostedAt.UnixMilli(); got != 1735689600000 {
		t.Errorf("PostedAt = %d ms, want 1735689600000", got)
	}
}

func TestWebhook_HandleEvent_RFC3339Timestamp(t *testing.T) {
	ch, b, _ := newTestWebhook(t, nil)
	srv := httptest.NewServer(ch.routes())
	defer srv.Close()

	body := `{"sourceId":"com.bca.mybca","title":"t","body":"b","postedAt":"2025-01-01T00:00:00Z"}`
	resp, err := http.Post(srv.URL+"/v1/events", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/events: %v", err)
	}
	resp.Body.Close()

	ev := recvEvent(t, b)
	want := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if !ev.PostedAt.Equal(want) {
		t.Errorf("PostedAt = %v, want %v", ev.PostedAt, want)
	}
}

func TestWebhook_HandleEvent_Rejections(t *testing.T) {
	ch, _, _ := newTestWebhook(t, nil)
	srv := httptest.NewServer(ch.routes())
	defer srv.Close()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{not json`, http.StatusBadRequest},
		{"missing sourceId", `{"title":"t","body":"b"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/v1/events", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestWebhook_BearerAuth(t *testing.T) {
	ch, b, _ := newTestWebhook(t, []string{"secret-token"})
	srv := httptest.NewServer(ch.routes())
	defer srv.Close()

	post := func(token string) int {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/events", strings.NewReader(`{"sourceId":"com.bca.mybca","title":"t"}`))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := post(""); got != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want %d", got, http.StatusUnauthorized)
	}
	if got := post("wrong"); got != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want %d", got, http.StatusUnauthorized)
	}
	if got := post("secret-token"); got != http.StatusAccepted {
		t.Errorf("valid token: status = %d, want %d", got, http.StatusAccepted)
	}
	recvEvent(t, b)
}

func TestWebhook_HandleBacklog(t *testing.T) {
	ch, b, _ := newTestWebhook(t, nil)
	srv := httptest.NewServer(ch.routes())
	defer srv.Close()

	body := `[
		{"sourceId":"com.bca.mybca","title":"first","body":"masuk 10.000"},
		{"sourceId":"","title":"skipped"},
		{"sourceId":"com.bri.brimo","title":"second","body":"masuk 20.000"}
	]`
	resp, err := http.Post(srv.URL+"/v1/events/backlog", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/events/backlog: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}

	var out map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out["accepted"] != 2 {
		t.Errorf("accepted = %d, want 2", out["accepted"])
	}

	first := recvEvent(t, b)
	second := recvEvent(t, b)
	if first.Title != "first" || second.Title != "second" {
		t.Errorf("backlog order = %q, %q; want first, second", first.Title, second.Title)
	}
}

func TestWebhook_HandleLogs(t *testing.T) {
	ch, _, d := newTestWebhook(t, nil)
	srv := httptest.NewServer(ch.routes())
	defer srv.Close()

	d.Logf("DETECTED: bank=bca amount=10250")
	d.Logf("FORWARDED: key=abc")

	resp, err := http.Get(srv.URL + "/v1/logs")
	if err != nil {
		t.Fatalf("GET /v1/logs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var entries []diag.Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode logs: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[1].Message != "FORWARDED: key=abc" {
		t.Errorf("last entry = %q", entries[1].Message)
	}
}

func TestWebhook_Healthz(t *testing.T) {
	ch, _, _ := newTestWebhook(t, []string{"secret-token"})
	srv := httptest.NewServer(ch.routes())
	defer srv.Close()

	// Health checks stay open even when a bearer token is configured.
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

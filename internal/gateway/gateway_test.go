package gateway

import (
	"context"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/aimastermebjm-byte/azzahra-sync/internal/auth"
	"github.com/aimastermebjm-byte/azzahra-sync/internal/bus"
	"github.com/aimastermebjm-byte/azzahra-sync/internal/config"
	"github.com/aimastermebjm-byte/azzahra-sync/internal/store"
)

type fakeStore struct {
	mu      sync.Mutex
	records []store.ForwardRecord
}

func (s *fakeStore) Upsert(ctx context.Context, rec store.ForwardRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeStore) all() []store.ForwardRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.ForwardRecord, len(s.records))
	copy(out, s.records)
	return out
}

func ownerFetch(ctx context.Context, sessionID string) (auth.Role, error) {
	return auth.RoleOwner, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Watch: config.WatchConfig{
			Sources:          []string{"com.bca.mybca"},
			DiagnosticSource: config.DefaultDiagnosticSource,
		},
		Detect: config.DetectConfig{
			Keywords:       config.DefaultKeywords,
			DedupWindow:    config.DefaultDedupWindow,
			PruneEvery:     config.DefaultPruneEvery,
			NoiseModulus:   config.DefaultNoiseModulus,
			HeartbeatEvery: config.DefaultHeartbeatEvery,
		},
		Session: config.SessionConfig{OwnerID: "owner-1"},
		Diag:    config.DiagConfig{RingSize: 50},
		// No channels enabled: events are injected straight onto the bus.
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestGateway_EndToEnd(t *testing.T) {
	st := &fakeStore{}
	sigCh := make(chan os.Signal, 1)

	gw, err := NewWithOptions(testConfig(), Options{
		Store:      st,
		RoleFetch:  ownerFetch,
		SignalChan: sigCh,
	})
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- gw.Run(context.Background()) }()

	gw.Bus().Publish(bus.RawEvent{
		SourceID: "com.bca.mybca",
		Title:    "BCA mobile",
		Body:     "Transfer masuk Rp 10.250 dari Andi",
	})

	waitFor(t, "forwarded record", func() bool { return len(st.all()) == 1 })
	rec := st.all()[0]
	if rec.Amount != 10250 {
		t.Errorf("Amount = %d, want 10250", rec.Amount)
	}
	if rec.Bank != "com.bca.mybca" {
		t.Errorf("Bank = %q, want com.bca.mybca", rec.Bank)
	}
	if rec.OwnerID != "owner-1" {
		t.Errorf("OwnerID = %q, want owner-1", rec.OwnerID)
	}
	if rec.DedupKey == "" {
		t.Error("DedupKey not set")
	}

	sigCh <- syscall.SIGTERM
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after SIGTERM")
	}
}

func TestGateway_UnwatchedSourceIgnored(t *testing.T) {
	st := &fakeStore{}
	sigCh := make(chan os.Signal, 1)

	gw, err := NewWithOptions(testConfig(), Options{
		Store:      st,
		RoleFetch:  ownerFetch,
		SignalChan: sigCh,
	})
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- gw.Run(context.Background()) }()

	gw.Bus().Publish(bus.RawEvent{
		SourceID: "com.example.game",
		Title:    "promo",
		Body:     "Bonus masuk Rp 10.250",
	})
	// Follow with a watched event so we know the first was processed.
	gw.Bus().Publish(bus.RawEvent{
		SourceID: "com.bca.mybca",
		Title:    "BCA mobile",
		Body:     "Transfer masuk Rp 20.750",
	})

	waitFor(t, "forwarded record", func() bool { return len(st.all()) == 1 })
	if rec := st.all()[0]; rec.Amount != 20750 {
		t.Errorf("Amount = %d, want 20750 (unwatched event leaked through)", rec.Amount)
	}

	sigCh <- syscall.SIGTERM
	<-done
}

func TestGateway_DiagnosticEventLoggedNotForwarded(t *testing.T) {
	st := &fakeStore{}
	sigCh := make(chan os.Signal, 1)

	gw, err := NewWithOptions(testConfig(), Options{
		Store:      st,
		RoleFetch:  ownerFetch,
		SignalChan: sigCh,
	})
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- gw.Run(context.Background()) }()

	gw.Bus().Publish(bus.RawEvent{
		SourceID: config.DefaultDiagnosticSource,
		Title:    "heartbeat",
		Body:     "self-test masuk Rp 10.250",
	})

	waitFor(t, "diagnostic log entry", func() bool {
		for _, e := range gw.Diag().Recent() {
			if strings.HasPrefix(e.Message, "DIAGNOSTIC:") {
				return true
			}
		}
		return false
	})
	if got := len(st.all()); got != 0 {
		t.Errorf("diagnostic event was forwarded: %d record(s)", got)
	}

	sigCh <- syscall.SIGTERM
	<-done
}

func TestNewWithOptions_StoreWithoutRoleFetch(t *testing.T) {
	if _, err := NewWithOptions(testConfig(), Options{Store: &fakeStore{}}); err == nil {
		t.Fatal("expected error when injecting a store without a role fetcher")
	}
}

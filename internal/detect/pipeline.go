// Package detect implements the payment-event detection pipeline:
// source filter, content normalizer, dedup gate, keyword gate, amount
// parser, noise filter, authorization gate, and idempotent forward
// dispatch. Every stage's failure path is drop-and-log; nothing here is
// fatal to the process.
package detect

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aimastermebjm-byte/azzahra-sync/internal/auth"
	"github.com/aimastermebjm-byte/azzahra-sync/internal/bus"
	"github.com/aimastermebjm-byte/azzahra-sync/internal/diag"
	"github.com/aimastermebjm-byte/azzahra-sync/internal/store"
)

// WatchSet is the externally supplied set of watched source ids,
// consulted fresh on every event.
type WatchSet interface {
	Contains(sourceID string) bool
}

type Config struct {
	// DiagnosticSource is the reserved self-test source id. Its events
	// always pass the source filter and terminate at the keyword gate
	// with a verbatim diagnostic log.
	DiagnosticSource string
	Keywords         []string
	NoiseModulus     int64
}

type Pipeline struct {
	cfg      Config
	keywords []string
	watch    WatchSet
	dedup    *DedupCache
	roles    *auth.RoleCache
	store    store.Store
	diag     *diag.Bus
	wg       sync.WaitGroup
}

func New(cfg Config, watch WatchSet, dedup *DedupCache, roles *auth.RoleCache, st store.Store, d *diag.Bus) *Pipeline {
	keywords := make([]string, 0, len(cfg.Keywords))
	for _, kw := range cfg.Keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	return &Pipeline{
		cfg:      cfg,
		keywords: keywords,
		watch:    watch,
		dedup:    dedup,
		roles:    roles,
		store:    st,
		diag:     d,
	}
}

// Handle runs one event through the pipeline. Safe for concurrent
// invocation; only the dedup cache and the role cache synchronize
// internally. Never blocks on network I/O: forwarding is dispatched to
// its own goroutine and the role fetch is asynchronous.
func (p *Pipeline) Handle(ev bus.RawEvent) {
	isDiag := ev.SourceID == p.cfg.DiagnosticSource
	if !isDiag && !p.watch.Contains(ev.SourceID) {
		return
	}

	content := strings.TrimSpace(strings.TrimSpace(ev.Title) + " " + strings.TrimSpace(ev.Body))

	// Diagnostic events exist to prove the pipeline is alive end to
	// end. They skip dedup and every later gate, and log even when the
	// content is empty.
	if isDiag {
		p.diag.Logf("DIAGNOSTIC: %s", content)
		return
	}

	if content == "" {
		return
	}

	key := Key(ev.SourceID, content)
	if !p.dedup.Accept(key) {
		p.diag.Logf("DUPLICATE: [%s] %s suppressed", ev.SourceID, truncate(content, 60))
		return
	}

	if !p.matchKeyword(content) {
		return
	}

	amount, ok := ExtractAmount(content)
	if !ok || amount <= 0 {
		return
	}

	if p.cfg.NoiseModulus > 0 && amount%p.cfg.NoiseModulus == 0 {
		p.diag.Logf("NOISE: [%s] Rp %d ignored (multiple of %d)", ev.SourceID, amount, p.cfg.NoiseModulus)
		return
	}

	p.authorize(ev, content, key, amount)
}

// authorize is the re-entry point for events deferred on an unresolved
// role: the replay closure runs this stage again once the fetch lands.
func (p *Pipeline) authorize(ev bus.RawEvent, content, key string, amount int64) {
	decision := p.roles.Decide(func() {
		p.authorize(ev, content, key, amount)
	})
	switch decision {
	case auth.Allow:
		p.forward(ev, content, key, amount)
	case auth.Deny:
		p.diag.Logf("AUTH: dropped [%s] Rp %d (session not owner)", ev.SourceID, amount)
	case auth.Deferred:
		p.diag.Logf("AUTH: deferred [%s] Rp %d until role resolves", ev.SourceID, amount)
	}
}

func (p *Pipeline) forward(ev bus.RawEvent, content, key string, amount int64) {
	p.diag.Logf("DETECTED: [%s] Rp %d", ev.SourceID, amount)

	rec := store.ForwardRecord{
		DedupKey:  key,
		Bank:      ev.SourceID,
		Amount:    amount,
		RawText:   content,
		OwnerID:   p.roles.Session(),
		Timestamp: forwardTime(ev),
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.store.Upsert(context.Background(), rec); err != nil {
			p.diag.Logf("FORWARD FAILED: [%s] Rp %d: %v", ev.SourceID, amount, err)
			return
		}
		p.diag.Logf("FORWARDED: [%s] amount=%d", ev.SourceID, amount)
	}()
}

func (p *Pipeline) matchKeyword(content string) bool {
	low := strings.ToLower(content)
	for _, kw := range p.keywords {
		if strings.Contains(low, kw) {
			return true
		}
	}
	return false
}

// Close waits for in-flight forwards to finish.
func (p *Pipeline) Close() {
	p.wg.Wait()
}

func forwardTime(ev bus.RawEvent) time.Time {
	if !ev.PostedAt.IsZero() {
		return ev.PostedAt
	}
	return time.Now()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Package gateway wires the bridges, the detection pipeline, and the
// remote store into one long-running process.
package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aimastermebjm-byte/azzahra-sync/internal/auth"
	"github.com/aimastermebjm-byte/azzahra-sync/internal/bus"
	"github.com/aimastermebjm-byte/azzahra-sync/internal/channel"
	"github.com/aimastermebjm-byte/azzahra-sync/internal/config"
	"github.com/aimastermebjm-byte/azzahra-sync/internal/detect"
	"github.com/aimastermebjm-byte/azzahra-sync/internal/diag"
	"github.com/aimastermebjm-byte/azzahra-sync/internal/sched"
	"github.com/aimastermebjm-byte/azzahra-sync/internal/store"
	"github.com/aimastermebjm-byte/azzahra-sync/internal/watchlist"
)

// Options inject external collaborators for testing.
type Options struct {
	Store      store.Store
	RoleFetch  auth.FetchFunc
	SignalChan chan os.Signal
}

type Gateway struct {
	cfg      *config.Config
	diag     *diag.Bus
	bus      *bus.EventBus
	watch    *watchlist.List
	dedup    *detect.DedupCache
	roles    *auth.RoleCache
	pipeline *detect.Pipeline
	channels *channel.Manager
	sched    *sched.Service
	queue    *store.OfflineQueue

	signalChan chan os.Signal
}

func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg}

	g.diag = diag.NewBus(cfg.Diag.RingSize)
	g.bus = bus.NewEventBus(config.DefaultBufSize)
	g.watch = watchlist.New(cfg.Watch.Sources, cfg.Watch.File)

	// Remote store, optionally wrapped in the sqlite offline queue.
	st := opts.Store
	var fsClient *store.FirestoreClient
	if st == nil {
		fsClient = store.NewFirestoreClient(cfg.Firestore, func() string {
			return cfg.Session.IDToken
		})
		st = fsClient
	}
	if cfg.Queue.DBPath != "" {
		q, err := store.NewOfflineQueue(cfg.Queue.DBPath, st,
			config.Duration(cfg.Queue.FlushEvery, config.DefaultFlushEvery))
		if err != nil {
			return nil, fmt.Errorf("create offline queue: %w", err)
		}
		g.queue = q
		st = q
	}

	// Authorization role lookup against the store's user records.
	fetch := opts.RoleFetch
	if fetch == nil {
		if fsClient == nil {
			return nil, fmt.Errorf("role fetch required when injecting a store")
		}
		ownerRole := cfg.Firestore.OwnerRole
		fetch = func(ctx context.Context, sessionID string) (auth.Role, error) {
			role, err := fsClient.FetchRole(ctx, sessionID)
			if err != nil {
				return auth.RoleUnknown, err
			}
			if strings.EqualFold(role, ownerRole) {
				return auth.RoleOwner, nil
			}
			return auth.RoleOther, nil
		}
	}
	g.roles = auth.NewRoleCache(func() string { return cfg.Session.OwnerID }, fetch)

	g.dedup = detect.NewDedupCache(config.Duration(cfg.Detect.DedupWindow, config.DefaultDedupWindow))
	g.pipeline = detect.New(detect.Config{
		DiagnosticSource: cfg.Watch.DiagnosticSource,
		Keywords:         cfg.Detect.Keywords,
		NoiseModulus:     cfg.Detect.NoiseModulus,
	}, g.watch, g.dedup, g.roles, st, g.diag)

	chMgr, err := channel.NewManager(cfg.Channels, cfg.Watch.DiagnosticSource, g.bus, g.diag)
	if err != nil {
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	g.sched = sched.NewService()
	pruneEvery := config.Duration(cfg.Detect.PruneEvery, config.DefaultPruneEvery)
	if err := g.sched.Add("dedup-prune", "@every "+pruneEvery.String(), func() error {
		if n := g.dedup.Prune(); n > 0 {
			log.Printf("[gateway] pruned %d dedup entries", n)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("register prune job: %w", err)
	}
	hbEvery := config.Duration(cfg.Detect.HeartbeatEvery, config.DefaultHeartbeatEvery)
	if err := g.sched.Add("heartbeat", "@every "+hbEvery.String(), func() error {
		g.bus.Publish(bus.RawEvent{
			SourceID: cfg.Watch.DiagnosticSource,
			Title:    "heartbeat",
			Body:     "self-test " + time.Now().Format(time.RFC3339),
		})
		return nil
	}); err != nil {
		return nil, fmt.Errorf("register heartbeat job: %w", err)
	}

	g.signalChan = opts.SignalChan
	return g, nil
}

// Diag exposes the diagnostic bus (status surfaces, tests).
func (g *Gateway) Diag() *diag.Bus {
	return g.diag
}

// Bus exposes the inbound event bus.
func (g *Gateway) Bus() *bus.EventBus {
	return g.bus
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := g.watch.Start(ctx); err != nil {
		return fmt.Errorf("start watchlist: %w", err)
	}
	if g.queue != nil {
		g.queue.Start(ctx)
	}
	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	g.sched.Start()
	go g.processLoop(ctx)

	g.diag.Logf("gateway up, watching %d source(s)", g.watch.Len())

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case ev := <-g.bus.Inbound:
			g.pipeline.Handle(ev)
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) Shutdown() error {
	g.sched.Stop()
	_ = g.channels.StopAll()
	g.pipeline.Close()
	if g.queue != nil {
		if err := g.queue.Close(); err != nil {
			log.Printf("[gateway] close offline queue warning: %v", err)
		}
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

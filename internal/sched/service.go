// Package sched runs the gateway's fixed maintenance jobs (dedup cache
// pruning, diagnostic heartbeat) on cron schedules.
package sched

import (
	"log"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

type JobState struct {
	LastRunAt  time.Time
	LastStatus string
	LastError  string
}

type job struct {
	name string
	run  func() error
}

type Service struct {
	mu    sync.Mutex
	cron  *rcron.Cron
	state map[string]JobState
}

func NewService() *Service {
	return &Service{
		cron:  rcron.New(),
		state: make(map[string]JobState),
	}
}

// Add registers a job under a cron expression ("@every 1m" or standard
// five-field specs).
func (s *Service) Add(name, expr string, run func() error) error {
	j := job{name: name, run: run}
	if _, err := s.cron.AddFunc(expr, func() { s.execute(j) }); err != nil {
		return err
	}
	log.Printf("[sched] registered job %s (%s)", name, expr)
	return nil
}

func (s *Service) execute(j job) {
	err := j.run()

	s.mu.Lock()
	st := JobState{LastRunAt: time.Now(), LastStatus: "ok"}
	if err != nil {
		st.LastStatus = "error"
		st.LastError = err.Error()
	}
	s.state[j.name] = st
	s.mu.Unlock()

	if err != nil {
		log.Printf("[sched] job %s error: %v", j.name, err)
	}
}

func (s *Service) Start() {
	s.cron.Start()
	log.Printf("[sched] started")
}

func (s *Service) Stop() {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		log.Printf("[sched] stop timeout waiting for running jobs")
	}
	log.Printf("[sched] stopped")
}

func (s *Service) State(name string) (JobState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state[name]
	return st, ok
}

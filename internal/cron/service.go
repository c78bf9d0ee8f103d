// Package cron runs named maintenance jobs (such as the embedding backfill)
// on cron expressions or fixed intervals.
package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

const (
	KindCron  = "cron"
	KindEvery = "every"
)

// Schedule uses a six-field (seconds first) Expr for KindCron and EveryMs
// for KindEvery.
type Schedule struct {
	Kind    string `json:"kind"`
	Expr    string `json:"expr,omitempty"`
	EveryMs int64  `json:"everyMs,omitempty"`
}

type JobState struct {
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastResult  string `json:"lastResult,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

type JobFunc func(ctx context.Context) (string, error)

type Job struct {
	Name     string   `json:"name"`
	Schedule Schedule `json:"schedule"`
	Enabled  bool     `json:"enabled"`
	State    JobState `json:"state"`

	run JobFunc
}

var parser = rcron.NewParser(rcron.Second | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor)

// Service keeps job state in statePath (if set) so status survives restarts.
type Service struct {
	statePath string
	mu        sync.Mutex
	jobs      []*Job
	cron      *rcron.Cron
	entryMap  map[string]rcron.EntryID
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewService(statePath string) *Service {
	return &Service{
		statePath: statePath,
		entryMap:  make(map[string]rcron.EntryID),
	}
}

// AddJob registers fn under name. Names are unique.
func (s *Service) AddJob(name string, schedule Schedule, fn JobFunc) error {
	if fn == nil {
		return errors.New("cron: nil job func")
	}
	switch schedule.Kind {
	case KindCron:
		if _, err := parser.Parse(schedule.Expr); err != nil {
			return fmt.Errorf("cron: job %s: parse %q: %w", name, schedule.Expr, err)
		}
	case KindEvery:
		if schedule.EveryMs <= 0 {
			return fmt.Errorf("cron: job %s: everyMs must be positive", name)
		}
	default:
		return fmt.Errorf("cron: job %s: unknown schedule kind %q", name, schedule.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.Name == name {
			return fmt.Errorf("cron: job %s already registered", name)
		}
	}
	job := &Job{Name: name, Schedule: schedule, Enabled: true, run: fn}
	s.jobs = append(s.jobs, job)
	if s.cron != nil && schedule.Kind == KindCron {
		s.registerLocked(job)
	}
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	if err := s.load(); err != nil {
		log.Printf("[cron] warning: failed to load job state: %v", err)
	}

	s.mu.Lock()
	s.ctx = runCtx
	s.cancel = cancel
	s.cron = rcron.New(rcron.WithParser(parser))
	for _, job := range s.jobs {
		if job.Enabled && job.Schedule.Kind == KindCron {
			s.registerLocked(job)
		}
	}
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	log.Printf("[cron] started with %d jobs", n)

	go s.tickLoop(runCtx)
	return nil
}

func (s *Service) registerLocked(job *Job) {
	id, err := s.cron.AddFunc(job.Schedule.Expr, func() { s.Run(job.Name) })
	if err != nil {
		log.Printf("[cron] failed to register job %s (%s): %v", job.Name, job.Schedule.Expr, err)
		return
	}
	s.entryMap[job.Name] = id
}

// Run executes the named job now and records the outcome.
func (s *Service) Run(name string) error {
	s.mu.Lock()
	job := s.findLocked(name)
	ctx := s.ctx
	s.mu.Unlock()
	if job == nil {
		return fmt.Errorf("job %s not found", name)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	log.Printf("[cron] executing job %s", name)
	result, err := job.run(ctx)

	s.mu.Lock()
	job.State.LastRunAtMs = time.Now().UnixMilli()
	if err != nil {
		job.State.LastStatus = "error"
		job.State.LastError = err.Error()
		log.Printf("[cron] job %s error: %v", name, err)
	} else {
		job.State.LastStatus = "ok"
		job.State.LastError = ""
		job.State.LastResult = truncate(result, 200)
		log.Printf("[cron] job %s result: %s", name, truncate(result, 100))
	}
	saveErr := s.saveLocked()
	s.mu.Unlock()
	if saveErr != nil {
		log.Printf("[cron] save state: %v", saveErr)
	}
	return err
}

func (s *Service) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now().UnixMilli()
			var due []string
			s.mu.Lock()
			for _, job := range s.jobs {
				if job.Enabled && job.Schedule.Kind == KindEvery && now >= job.State.LastRunAtMs+job.Schedule.EveryMs {
					due = append(due, job.Name)
				}
			}
			s.mu.Unlock()
			for _, name := range due {
				s.Run(name)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	c := s.cron
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if c != nil {
		stopCtx := c.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			log.Printf("[cron] stop timeout waiting for running jobs")
		}
	}
	log.Printf("[cron] stopped")
}

// EnableJob toggles a job; a disabled cron job is removed from the scheduler.
func (s *Service) EnableJob(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := s.findLocked(name)
	if job == nil {
		return fmt.Errorf("job %s not found", name)
	}
	job.Enabled = enabled
	if job.Schedule.Kind == KindCron && s.cron != nil {
		if enabled {
			if _, ok := s.entryMap[name]; !ok {
				s.registerLocked(job)
			}
		} else if entryID, ok := s.entryMap[name]; ok {
			s.cron.Remove(entryID)
			delete(s.entryMap, name)
		}
	}
	return s.saveLocked()
}

func (s *Service) ListJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, len(s.jobs))
	for i, j := range s.jobs {
		out[i] = *j
		out[i].run = nil
	}
	return out
}

func (s *Service) findLocked(name string) *Job {
	for _, j := range s.jobs {
		if j.Name == name {
			return j
		}
	}
	return nil
}

type storedJob struct {
	Name    string   `json:"name"`
	Enabled bool     `json:"enabled"`
	State   JobState `json:"state"`
}

// load restores state for jobs registered before Start.
func (s *Service) load() error {
	if s.statePath == "" {
		return nil
	}
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var stored []storedJob
	if err := json.Unmarshal(data, &stored); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range stored {
		if job := s.findLocked(st.Name); job != nil {
			job.Enabled = st.Enabled
			job.State = st.State
		}
	}
	return nil
}

func (s *Service) saveLocked() error {
	if s.statePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.statePath), 0755); err != nil {
		return err
	}
	stored := make([]storedJob, len(s.jobs))
	for i, j := range s.jobs {
		stored[i] = storedJob{Name: j.Name, Enabled: j.Enabled, State: j.State}
	}
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.statePath, data, 0644)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/unattachedgray/feedbuffet/internal/pipeline"
)

const schedulerLockKey = "feedbuffet:sched:lock"

// Scheduler triggers pipeline runs on a cron spec while the daemon is up.
// A redis lock keeps concurrent replicas from running the same tick twice.
type Scheduler struct {
	Spec   string
	Opts   pipeline.Options
	Runner RunStarter
	Rdb    *redis.Client
	Logger *log.Logger
	Stop   chan struct{}

	mu      sync.Mutex
	lastRun *time.Time
}

// Start launches the scheduling loop. A nil or empty spec is a no-op.
func (s *Scheduler) Start() {
	if s.Spec == "" {
		return
	}
	if s.Logger == nil {
		s.Logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	ticker := time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	last := s.lastRun
	s.mu.Unlock()
	if !isDue(s.Spec, last) {
		return
	}

	ctx := context.Background()
	if s.Rdb != nil {
		ok, err := s.Rdb.SetNX(ctx, schedulerLockKey, "1", 2*time.Minute).Result()
		if err != nil {
			s.Logger.Printf("scheduler lock error: %v", err)
			return
		}
		if !ok {
			return
		}
		defer s.Rdb.Del(ctx, schedulerLockKey)
	}

	now := time.Now()
	s.mu.Lock()
	s.lastRun = &now
	s.mu.Unlock()

	res, err := s.Runner.Run(ctx, s.Opts)
	if err != nil {
		s.Logger.Printf("scheduled run failed: %v", err)
		return
	}
	s.Logger.Printf("scheduled run finished: %d stories from %d new items", len(res.Stories), res.NewItems)
}

// isDue reports whether a run should fire now, given the last run time.
// Supports "@daily", "@hourly" and standard 5-field cron expressions; an
// unparseable spec degrades to @daily.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}

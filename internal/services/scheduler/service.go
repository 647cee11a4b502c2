// Package scheduler drives the indexing pipeline. A cron-timed pass runs
// registry maintenance, claims the domains due for indexing and fans the
// jobs out to a bounded pool of site crawls.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/interfaces"
	"github.com/ternarybob/indago/internal/services/registry"
)

// ErrPassRunning is returned when a pass is requested while one is active.
var ErrPassRunning = errors.New("an indexing pass is already running")

// recentJobsLimit caps the job history kept for the status API.
const recentJobsLimit = 20

// JobOutcome records how one site's indexing job ended.
type JobOutcome struct {
	Domain    string    `json:"domain"`
	FullIndex bool      `json:"full_index"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Duration  string    `json:"duration"`
	Finished  time.Time `json:"finished"`
}

// Status is a snapshot of the scheduler for the status API.
type Status struct {
	SchedulerRunning bool         `json:"scheduler_running"`
	PassRunning      bool         `json:"pass_running"`
	LastPassID       string       `json:"last_pass_id,omitempty"`
	LastPassStarted  *time.Time   `json:"last_pass_started,omitempty"`
	LastPassFinished *time.Time   `json:"last_pass_finished,omitempty"`
	RunningSites     []string     `json:"running_sites"`
	RecentJobs       []JobOutcome `json:"recent_jobs"`
}

// Service owns the indexing cadence. One pass runs at a time; a cron tick
// that fires while the previous pass is still crawling is skipped.
type Service struct {
	schedule    string
	parallelism int
	maintenance *registry.Service
	store       interfaces.RegistryStore
	indexer     interfaces.SiteIndexer
	logger      arbor.ILogger

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	passWG sync.WaitGroup

	mu           sync.Mutex
	running      bool
	passRunning  bool
	lastPassID   string
	lastStarted  time.Time
	lastFinished time.Time
	runningSites map[string]struct{}
	recent       []JobOutcome
}

func NewService(config common.SchedulerConfig, parallelism int, maintenance *registry.Service, store interfaces.RegistryStore, indexer interfaces.SiteIndexer, logger arbor.ILogger) *Service {
	if parallelism <= 0 {
		parallelism = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		schedule:     config.Schedule,
		parallelism:  parallelism,
		maintenance:  maintenance,
		store:        store,
		indexer:      indexer,
		logger:       logger,
		cron:         cron.New(),
		ctx:          ctx,
		cancel:       cancel,
		runningSites: make(map[string]struct{}),
	}
}

// Start schedules the recurring pass and kicks off an immediate one so a
// fresh deployment does not wait out the first interval.
func (s *Service) Start() error {
	schedule := s.schedule
	if schedule == "" {
		schedule = "@every 1m"
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.mu.Unlock()

	if _, err := s.cron.AddFunc(schedule, s.runScheduledPass); err != nil {
		return fmt.Errorf("failed to add cron schedule: %w", err)
	}
	s.cron.Start()

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.logger.Info().Str("schedule", schedule).Msg("Scheduler started")

	go s.runScheduledPass()
	return nil
}

// Stop halts the cron timer and waits for the in-flight pass to drain its
// commits. When ctx expires first the pass is cancelled outright; domains
// left RUNNING are returned to the queue by the stuck-job sweep.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.cron.Stop()

	done := make(chan struct{})
	go func() {
		s.passWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info().Msg("Scheduler stopped")
	case <-ctx.Done():
		s.cancel()
		s.logger.Warn().Msg("Indexing pass did not finish before the shutdown deadline")
	}
	return nil
}

// TriggerNow starts a pass in the background, for the manual trigger API.
func (s *Service) TriggerNow() error {
	s.mu.Lock()
	if s.passRunning {
		s.mu.Unlock()
		return ErrPassRunning
	}
	s.mu.Unlock()

	go s.runScheduledPass()
	return nil
}

// Status returns a point-in-time snapshot for the status API.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	sites := make([]string, 0, len(s.runningSites))
	for domain := range s.runningSites {
		sites = append(sites, domain)
	}
	sort.Strings(sites)

	status := Status{
		SchedulerRunning: s.running,
		PassRunning:      s.passRunning,
		LastPassID:       s.lastPassID,
		RunningSites:     sites,
		RecentJobs:       append([]JobOutcome(nil), s.recent...),
	}
	if !s.lastStarted.IsZero() {
		started := s.lastStarted
		status.LastPassStarted = &started
	}
	if !s.lastFinished.IsZero() {
		finished := s.lastFinished
		status.LastPassFinished = &finished
	}
	return status
}

func (s *Service) runScheduledPass() {
	defer func() {
		if r := recover(); r != nil {
			stackTrace := common.GetStackTrace()
			s.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", stackTrace).
				Msg("Recovered from panic in scheduled pass - writing crash file")
			common.WriteCrashFile(r, stackTrace)
		}
	}()

	s.passWG.Add(1)
	defer s.passWG.Done()

	err := s.RunOnce(s.ctx)
	switch {
	case errors.Is(err, ErrPassRunning):
		s.logger.Debug().Msg("Previous pass still running, skipping this cycle")
	case err != nil:
		s.logger.Error().Err(err).Msg("Indexing pass failed")
	}
}

// beginPass flips the single-pass guard and assigns the pass its correlation
// ID; ok is false when a pass is already running.
func (s *Service) beginPass() (passID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.passRunning {
		return "", false
	}
	s.passRunning = true
	s.lastPassID = common.NewPassID()
	s.lastStarted = time.Now()
	return s.lastPassID, true
}

func (s *Service) endPass() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passRunning = false
	s.lastFinished = time.Now()
}

func (s *Service) trackSite(domain string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runningSites[domain] = struct{}{}
}

func (s *Service) untrackSite(domain string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runningSites, domain)
}

func (s *Service) recordOutcome(outcome JobOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, outcome)
	if len(s.recent) > recentJobsLimit {
		s.recent = s.recent[len(s.recent)-recentJobsLimit:]
	}
}

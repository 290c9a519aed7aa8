package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"finsync/internal/domain/openfinance"
)

// ScheduleTime represents a specific time of day when the scheduler should run.
type ScheduleTime struct {
	Hour   int
	Minute int
}

// String returns the time in HH:MM format.
func (st ScheduleTime) String() string {
	return fmt.Sprintf("%02d:%02d", st.Hour, st.Minute)
}

// ParseScheduleTime parses a time string in HH:MM format.
func ParseScheduleTime(s string) (ScheduleTime, error) {
	var hour, minute int
	_, err := fmt.Sscanf(s, "%d:%d", &hour, &minute)
	if err != nil {
		return ScheduleTime{}, fmt.Errorf("invalid time format (expected HH:MM): %w", err)
	}

	if hour < 0 || hour > 23 {
		return ScheduleTime{}, fmt.Errorf("invalid hour: %d (must be 0-23)", hour)
	}
	if minute < 0 || minute > 59 {
		return ScheduleTime{}, fmt.Errorf("invalid minute: %d (must be 0-59)", minute)
	}

	return ScheduleTime{Hour: hour, Minute: minute}, nil
}

// slot is one time of day and the sync paths due at it.
type slot struct {
	at    ScheduleTime
	paths []openfinance.SyncPath
}

// JobProvider lists the re-sync jobs for the given sync paths.
type JobProvider func(ctx context.Context, paths []openfinance.SyncPath) ([]Job, error)

// Scheduler re-syncs active links at fixed times of day. Each sync path
// carries its own times, so fiscal links can run less often than
// transactional ones.
type Scheduler struct {
	workerPool   *WorkerPool
	slots        []slot
	paths        []openfinance.SyncPath
	runOnStartup bool
	jobProvider  JobProvider

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastRun string
	mu      sync.Mutex
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	// Times maps each sync path to its HH:MM schedule. A path with no
	// times is never re-synced.
	Times        map[openfinance.SyncPath][]string
	WorkerCount  int
	JobDelay     time.Duration
	JobTimeout   time.Duration
	QueueSize    int
	RunOnStartup bool
	JobProvider  JobProvider
}

// NewScheduler creates a new scheduler with the given configuration.
func NewScheduler(config SchedulerConfig) (*Scheduler, error) {
	paths := make([]openfinance.SyncPath, 0, len(config.Times))
	for path := range config.Times {
		paths = append(paths, path)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })

	byMinute := make(map[int]*slot)
	active := make([]openfinance.SyncPath, 0, len(paths))
	for _, path := range paths {
		if len(config.Times[path]) == 0 {
			continue
		}
		active = append(active, path)
		for _, timeStr := range config.Times[path] {
			st, err := ParseScheduleTime(timeStr)
			if err != nil {
				return nil, fmt.Errorf("failed to parse %s schedule time %q: %w", path, timeStr, err)
			}
			key := st.Hour*60 + st.Minute
			sl, ok := byMinute[key]
			if !ok {
				sl = &slot{at: st}
				byMinute[key] = sl
			}
			if !containsPath(sl.paths, path) {
				sl.paths = append(sl.paths, path)
			}
		}
	}

	if len(byMinute) == 0 {
		return nil, fmt.Errorf("at least one schedule time is required")
	}

	slots := make([]slot, 0, len(byMinute))
	for _, sl := range byMinute {
		slots = append(slots, *sl)
	}
	sort.Slice(slots, func(i, j int) bool {
		a, b := slots[i].at, slots[j].at
		return a.Hour*60+a.Minute < b.Hour*60+b.Minute
	})

	workerPool := NewWorkerPool(config.WorkerCount, config.JobDelay, config.QueueSize, config.JobTimeout)
	ctx, cancel := context.WithCancel(context.Background())

	for _, path := range active {
		log.Printf("Scheduler: %s links re-sync at %v", path, config.Times[path])
	}
	log.Printf("Worker pool: %d workers, %v delay between jobs", config.WorkerCount, config.JobDelay)

	return &Scheduler{
		workerPool:   workerPool,
		slots:        slots,
		paths:        active,
		runOnStartup: config.RunOnStartup,
		jobProvider:  config.JobProvider,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

func containsPath(paths []openfinance.SyncPath, p openfinance.SyncPath) bool {
	for _, q := range paths {
		if q == p {
			return true
		}
	}
	return false
}

// Start launches the scheduler and worker pool.
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	s.workerPool.Start()

	if s.runOnStartup {
		log.Printf("Scheduler: Running initial %v re-sync on startup", s.paths)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runJobs(s.paths)
		}()
	}

	s.wg.Add(1)
	go s.scheduleLoop()

	log.Println("Scheduler started")
}

func (s *Scheduler) scheduleLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	log.Println("Scheduler loop started, checking every minute")

	for {
		select {
		case <-s.ctx.Done():
			log.Println("Scheduler loop: Context cancelled, shutting down")
			return

		case now := <-ticker.C:
			if paths := s.due(now); len(paths) > 0 {
				log.Printf("Scheduler: Triggered %v re-sync at %s", paths, now.Format("15:04"))
				s.runJobs(paths)
			}
		}
	}
}

// due returns the sync paths scheduled at now's minute, at most once per
// slot per day.
func (s *Scheduler) due(now time.Time) []openfinance.SyncPath {
	key := fmt.Sprintf("%s-%02d:%02d", now.Format("2006-01-02"), now.Hour(), now.Minute())

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastRun == key {
		return nil
	}

	for _, sl := range s.slots {
		if now.Hour() == sl.at.Hour && now.Minute() == sl.at.Minute {
			s.lastRun = key
			return sl.paths
		}
	}

	return nil
}

// runJobs lists the jobs for paths and hands them to the worker pool.
func (s *Scheduler) runJobs(paths []openfinance.SyncPath) int {
	if s.jobProvider == nil {
		log.Println("Scheduler: No job provider configured")
		return 0
	}

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	jobs, err := s.jobProvider(ctx, paths)
	if err != nil {
		log.Printf("Scheduler: Failed to fetch jobs: %v", err)
		return 0
	}

	if len(jobs) == 0 {
		log.Printf("Scheduler: No %v links to re-sync", paths)
		return 0
	}

	log.Printf("Scheduler: Submitting %d jobs to worker pool", len(jobs))
	return s.workerPool.SubmitBatch(jobs)
}

// Shutdown gracefully stops the scheduler and worker pool.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	log.Println("Scheduler: Initiating graceful shutdown...")

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Scheduler: Scheduler loop stopped gracefully")
	case <-time.After(timeout):
		log.Println("Scheduler: Timeout waiting for scheduler loop to stop")
	}

	s.workerPool.ShutdownWithTimeout(timeout)

	log.Println("Scheduler: Shutdown complete")
}

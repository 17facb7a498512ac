package worker

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// SupervisorConfig holds worker pool supervisor configuration
type SupervisorConfig struct {
	// Binary is the executable to spawn for each worker.
	Binary string
	// BaseArgs are the arguments of the worker entry point; the supervisor
	// appends --worker-id <n> per child.
	BaseArgs []string
	// Count is the number of worker processes to start.
	Count int
	// GracePeriod bounds how long Shutdown waits for graceful exits before
	// force-killing stragglers.
	GracePeriod time.Duration
	Logger      *slog.Logger
}

type workerProc struct {
	id   int
	cmd  *exec.Cmd
	done chan error
}

// Supervisor starts N worker processes against the same durable store and
// owns their lifecycle: a process-handle table replaces PID-file
// bookkeeping, so liveness and shutdown are direct operations on the
// handles. The store's claim atomicity, not the supervisor, is what
// prevents double-processing.
type Supervisor struct {
	config *SupervisorConfig
	logger *slog.Logger

	mu       sync.Mutex
	procs    []*workerProc
	shutdown sync.Once
}

// NewSupervisor creates a supervisor. Start must be called before any other
// method.
func NewSupervisor(config *SupervisorConfig) *Supervisor {
	return &Supervisor{
		config: config,
		logger: config.Logger,
	}
}

// Start spawns the configured number of worker processes.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.procs) > 0 {
		return fmt.Errorf("supervisor already started")
	}
	if s.config.Count < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}

	for i := 0; i < s.config.Count; i++ {
		args := append(append([]string{}, s.config.BaseArgs...), "--worker-id", strconv.Itoa(i))
		cmd := exec.Command(s.config.Binary, args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Start(); err != nil {
			s.stopStartedLocked()
			return fmt.Errorf("failed to start worker %d: %w", i, err)
		}

		proc := &workerProc{id: i, cmd: cmd, done: make(chan error, 1)}
		go func() {
			proc.done <- cmd.Wait()
			close(proc.done)
		}()
		s.procs = append(s.procs, proc)

		s.logger.Info("worker process started",
			slog.Int("worker_id", i),
			slog.Int("pid", cmd.Process.Pid),
		)
	}

	return nil
}

// Wait blocks until every worker process has exited.
func (s *Supervisor) Wait() {
	for _, proc := range s.snapshot() {
		<-proc.done
	}
}

// Shutdown signals every worker to terminate, waits out the grace period,
// then force-kills stragglers. It is idempotent and safe to call from a
// signal handler at any point in the pool's lifetime.
func (s *Supervisor) Shutdown() {
	s.shutdown.Do(func() {
		procs := s.snapshot()
		if len(procs) == 0 {
			return
		}

		s.logger.Info("shutting down worker pool",
			slog.Int("workers", len(procs)),
		)

		for _, proc := range procs {
			if err := proc.cmd.Process.Signal(syscall.SIGTERM); err != nil {
				s.logger.Debug("failed to signal worker",
					slog.Int("worker_id", proc.id),
					slog.String("error", err.Error()),
				)
			}
		}

		grace := s.config.GracePeriod
		if grace <= 0 {
			grace = 30 * time.Second
		}
		deadline := time.Now().Add(grace)

		for _, proc := range procs {
			remaining := time.Until(deadline)
			if remaining < 0 {
				remaining = 0
			}
			timer := time.NewTimer(remaining)

			select {
			case <-proc.done:
				timer.Stop()
				s.logger.Info("worker process exited",
					slog.Int("worker_id", proc.id),
				)
			case <-timer.C:
				s.logger.Warn("worker did not exit in time, force killing",
					slog.Int("worker_id", proc.id),
					slog.Int("pid", proc.cmd.Process.Pid),
				)
				_ = proc.cmd.Process.Kill()
				<-proc.done
			}
		}

		s.logger.Info("worker pool shutdown complete")
	})
}

// Alive returns the number of worker processes still running.
func (s *Supervisor) Alive() int {
	alive := 0
	for _, proc := range s.snapshot() {
		select {
		case <-proc.done:
		default:
			alive++
		}
	}
	return alive
}

// Pids returns the process ids of workers still running.
func (s *Supervisor) Pids() []int {
	var pids []int
	for _, proc := range s.snapshot() {
		select {
		case <-proc.done:
		default:
			pids = append(pids, proc.cmd.Process.Pid)
		}
	}
	return pids
}

func (s *Supervisor) snapshot() []*workerProc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*workerProc{}, s.procs...)
}

// stopStartedLocked kills processes spawned before a Start failure.
func (s *Supervisor) stopStartedLocked() {
	for _, proc := range s.procs {
		_ = proc.cmd.Process.Kill()
		<-proc.done
	}
	s.procs = nil
}

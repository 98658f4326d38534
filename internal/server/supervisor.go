package server

import (
	"fmt"
	"log"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/bedrockmgr/bedrock-server-manager/internal/apperr"
)

// State is the lifecycle state of one instance.
type State string

const (
	StateStopped  State = "Stopped"
	StateStarting State = "Starting"
	StateRunning  State = "Running"
	StateStopping State = "Stopping"
	StateError    State = "Error"
)

// StatusStore persists the last-known lifecycle state per instance.
type StatusStore interface {
	SetStatus(name, status string) error
}

// Options configures a Supervisor.
type Options struct {
	StartTimeout time.Duration
	StopTimeout  time.Duration
	PollInterval time.Duration
	RestartGrace time.Duration
	// Denylist holds console commands SendCommand must reject.
	Denylist []string
	// Status is optional; nil disables persistence.
	Status StatusStore
	// GOOS overrides the platform selection, for tests.
	GOOS string
	// Terminate force-kills a pid. Defaults to TerminateProcess.
	Terminate func(pid int32) error
}

// Supervisor owns the start/stop/restart semantics and the finite
// state of each instance. Calls against the same instance are
// serialized by a per-instance mutex; different instances proceed
// concurrently. All waits are single-shot; there are no retries.
type Supervisor struct {
	channel   Channel
	launcher  Launcher
	stats     *ProcStats
	status    StatusStore
	denylist  map[string]struct{}
	goos      string
	terminate func(pid int32) error

	startTimeout time.Duration
	stopTimeout  time.Duration
	pollInterval time.Duration
	restartGrace time.Duration

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	states map[string]State
}

// New creates a supervisor over a command channel and launcher.
func New(channel Channel, launcher Launcher, opts Options) *Supervisor {
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 60 * time.Second
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 60 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	if opts.Terminate == nil {
		opts.Terminate = TerminateProcess
	}

	denylist := make(map[string]struct{}, len(opts.Denylist))
	for _, cmd := range opts.Denylist {
		denylist[strings.ToLower(strings.TrimSpace(cmd))] = struct{}{}
	}

	return &Supervisor{
		channel:      channel,
		launcher:     launcher,
		stats:        NewProcStats(),
		status:       opts.Status,
		denylist:     denylist,
		goos:         opts.GOOS,
		terminate:    opts.Terminate,
		startTimeout: opts.StartTimeout,
		stopTimeout:  opts.StopTimeout,
		pollInterval: opts.PollInterval,
		restartGrace: opts.RestartGrace,
		locks:        make(map[string]*sync.Mutex),
		states:       make(map[string]State),
	}
}

// Start launches the instance and waits until the probe reports it
// running. Starting an already-running instance is a no-op success.
func (s *Supervisor) Start(inst Instance) error {
	lock := s.instanceLock(inst.Name)
	lock.Lock()
	defer lock.Unlock()

	return s.start(inst)
}

// Stop shuts the instance down and waits until the probe reports it
// gone. Stopping an already-stopped instance is a no-op success.
func (s *Supervisor) Stop(inst Instance) error {
	lock := s.instanceLock(inst.Name)
	lock.Lock()
	defer lock.Unlock()

	return s.stop(inst)
}

// Restart broadcasts a warning, waits a grace period, then stops and
// starts the instance. A stopped instance degrades to a plain start.
// A stop failure short-circuits; the start phase is not attempted.
func (s *Supervisor) Restart(inst Instance) error {
	lock := s.instanceLock(inst.Name)
	lock.Lock()
	defer lock.Unlock()

	probe, err := s.channel.Probe(inst)
	if err != nil {
		return fmt.Errorf("restart of %s failed during probe: %w", inst.Name, err)
	}

	if !probe.Running {
		return s.start(inst)
	}

	// Best effort; players may not get the warning if the channel is
	// already unhealthy.
	if err := s.channel.Send(inst, "say Server restarting shortly"); err != nil {
		log.Printf("[Supervisor] Restart warning for %s not delivered: %v", inst.Name, err)
	} else if s.restartGrace > 0 {
		time.Sleep(s.restartGrace)
	}

	if err := s.stop(inst); err != nil {
		return fmt.Errorf("restart of %s failed in stop phase: %w", inst.Name, err)
	}
	if err := s.start(inst); err != nil {
		return fmt.Errorf("restart of %s failed in start phase: %w", inst.Name, err)
	}

	return nil
}

// SendCommand delivers a console command to a running instance. The
// denylist is enforced here so both platform channels behave
// identically.
func (s *Supervisor) SendCommand(inst Instance, text string) error {
	lock := s.instanceLock(inst.Name)
	lock.Lock()
	defer lock.Unlock()

	if strings.TrimSpace(text) == "" {
		return apperr.Wrap(apperr.ErrUserInput, "empty command")
	}
	if _, denied := s.denylist[firstWord(text)]; denied {
		return apperr.Wrap(apperr.ErrUserInput, "command %q is blocked by the denylist", firstWord(text))
	}

	probe, err := s.channel.Probe(inst)
	if err != nil {
		return fmt.Errorf("probe failed for %s: %w", inst.Name, err)
	}
	if !probe.Running {
		return apperr.Wrap(apperr.ErrChannelNotFound, "instance %s is not running", inst.Name)
	}

	return s.channel.Send(inst, text)
}

// Probe reports process liveness without touching the state machine.
func (s *Supervisor) Probe(inst Instance) (ProbeResult, error) {
	return s.channel.Probe(inst)
}

// State returns the supervisor's view of an instance's state.
func (s *Supervisor) State(name string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.states[name]; ok {
		return state
	}
	return StateStopped
}

// Metrics samples pid, RSS and CPU percent for a running instance.
func (s *Supervisor) Metrics(inst Instance) (ProcMetrics, error) {
	probe, err := s.channel.Probe(inst)
	if err != nil {
		return ProcMetrics{}, fmt.Errorf("probe failed for %s: %w", inst.Name, err)
	}
	if !probe.Running {
		return ProcMetrics{}, apperr.Wrap(apperr.ErrChannelNotFound, "instance %s is not running", inst.Name)
	}

	return s.stats.Sample(inst.Name, probe.PID)
}

// ForgetInstance drops the per-instance supervisor state when the
// instance is deleted. The lock entry stays: removing it would let a
// racing lifecycle call mint a second mutex for the same name and run
// unserialized against this one.
func (s *Supervisor) ForgetInstance(name string) {
	s.stats.Forget(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, name)
}

func (s *Supervisor) start(inst Instance) error {
	probe, err := s.channel.Probe(inst)
	if err != nil {
		return fmt.Errorf("probe failed for %s: %w", inst.Name, err)
	}
	if probe.Running {
		// Never launch a second process for a live handle.
		s.setState(inst.Name, StateRunning)
		return nil
	}

	s.setState(inst.Name, StateStarting)
	log.Printf("[Supervisor] Starting %s", inst.Name)

	if err := s.launcher.Launch(inst); err != nil {
		s.setState(inst.Name, StateError)
		return apperr.Wrap(apperr.ErrServerStart, "launch failed for %s: %v", inst.Name, err)
	}

	deadline := time.Now().Add(s.startTimeout)
	for time.Now().Before(deadline) {
		probe, err := s.channel.Probe(inst)
		if err == nil && probe.Running {
			s.setState(inst.Name, StateRunning)
			log.Printf("[Supervisor] %s is running (pid %d)", inst.Name, probe.PID)
			return nil
		}
		time.Sleep(s.pollInterval)
	}

	s.setState(inst.Name, StateError)
	return apperr.Wrap(apperr.ErrServerStart, "%s did not come up within %v", inst.Name, s.startTimeout)
}

func (s *Supervisor) stop(inst Instance) error {
	probe, err := s.channel.Probe(inst)
	if err != nil {
		return fmt.Errorf("probe failed for %s: %w", inst.Name, err)
	}
	if !probe.Running {
		s.setState(inst.Name, StateStopped)
		return nil
	}

	s.setState(inst.Name, StateStopping)
	log.Printf("[Supervisor] Stopping %s (pid %d)", inst.Name, probe.PID)

	if s.goos == "windows" {
		// Bedrock on Windows has no console stop command over the
		// pipe wrapper; terminate the process directly.
		if probe.PID != 0 {
			if err := s.terminate(probe.PID); err != nil {
				s.setState(inst.Name, StateError)
				return apperr.Wrap(apperr.ErrServerStop, "failed to terminate %s: %v", inst.Name, err)
			}
		}
	} else {
		if err := s.channel.Send(inst, "stop"); err != nil {
			s.setState(inst.Name, StateError)
			return apperr.Wrap(apperr.ErrServerStop, "failed to send stop to %s: %v", inst.Name, err)
		}
	}

	deadline := time.Now().Add(s.stopTimeout)
	for time.Now().Before(deadline) {
		probe, err := s.channel.Probe(inst)
		if err == nil && !probe.Running {
			s.setState(inst.Name, StateStopped)
			s.stats.Forget(inst.Name)
			return nil
		}
		time.Sleep(s.pollInterval)
	}

	// Timeout elapsed; force-terminate as a last resort and check once.
	if probe.PID != 0 {
		if err := s.terminate(probe.PID); err != nil {
			log.Printf("[Supervisor] Force terminate of %s failed: %v", inst.Name, err)
		}
		time.Sleep(s.pollInterval)
		if p, err := s.channel.Probe(inst); err == nil && !p.Running {
			s.setState(inst.Name, StateStopped)
			s.stats.Forget(inst.Name)
			return nil
		}
	}

	s.setState(inst.Name, StateError)
	return apperr.Wrap(apperr.ErrServerStop, "%s did not stop within %v", inst.Name, s.stopTimeout)
}

func (s *Supervisor) setState(name string, state State) {
	s.mu.Lock()
	s.states[name] = state
	s.mu.Unlock()

	if s.status != nil {
		if err := s.status.SetStatus(name, string(state)); err != nil {
			log.Printf("[Supervisor] Failed to persist status %s for %s: %v", state, name, err)
		}
	}
}

func (s *Supervisor) instanceLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[name] = lock
	}
	return lock
}

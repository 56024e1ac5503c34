package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"golang.org/x/sync/errgroup"
)

const (
	defaultStagger   = 5 * time.Second
	defaultHeartbeat = 5 * time.Second
)

// Runner is one supervised component with a managed lifecycle.
type Runner interface {
	Name() string
	Start(ctx context.Context) error
	Stop()
}

// StatusReporter is optionally implemented by runners that can describe
// their state for the heartbeat line.
type StatusReporter interface {
	Status() string
}

// Supervisor starts a set of runners with a staggered schedule, emits a
// periodic heartbeat while they run, and stops them in reverse order. One
// runner typically wraps the full stack for one symbol.
type Supervisor struct {
	runners   []Runner
	stagger   time.Duration
	heartbeat time.Duration
	clock     func() time.Time

	mu        sync.Mutex
	started   []Runner
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// SupervisorOption tailors a Supervisor.
type SupervisorOption func(*Supervisor)

// WithStagger sets the delay between consecutive runner starts.
func WithStagger(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		if d >= 0 {
			s.stagger = d
		}
	}
}

// WithHeartbeat sets the interval between heartbeat log lines.
func WithHeartbeat(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// WithSupervisorClock overrides the time source. Test hook.
func WithSupervisorClock(clock func() time.Time) SupervisorOption {
	return func(s *Supervisor) { s.clock = clock }
}

// NewSupervisor builds a supervisor over the given runners. Start order
// follows the slice order.
func NewSupervisor(runners []Runner, opts ...SupervisorOption) (*Supervisor, error) {
	if len(runners) == 0 {
		return nil, fmt.Errorf("engine: supervisor needs at least one runner")
	}
	for i, r := range runners {
		if r == nil {
			return nil, fmt.Errorf("engine: runner %d is nil", i)
		}
	}
	s := &Supervisor{
		runners:   runners,
		stagger:   defaultStagger,
		heartbeat: defaultHeartbeat,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches every runner, each delayed by its position times the
// stagger. The first failure cancels pending starts, stops anything already
// running and is returned.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return fmt.Errorf("engine: supervisor already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.startedAt = s.clock()
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(runCtx)
	for i, r := range s.runners {
		delay := time.Duration(i) * s.stagger
		r := r
		g.Go(func() error {
			if err := sleepCtx(gctx, delay); err != nil {
				return err
			}
			if err := r.Start(gctx); err != nil {
				return fmt.Errorf("engine: start %s: %w", r.Name(), err)
			}
			s.mu.Lock()
			s.started = append(s.started, r)
			s.mu.Unlock()
			logx.Infof("supervisor: %s started", r.Name())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.stopStarted()
		s.mu.Lock()
		s.cancel = nil
		close(s.done)
		s.mu.Unlock()
		cancel()
		return err
	}

	go func() {
		defer close(s.done)
		s.beat(runCtx)
	}()
	return nil
}

// Stop halts the heartbeat and every started runner, last started first.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.stopStarted()
	logx.Infof("supervisor: all components stopped")
}

// Running returns the names of currently started runners, start order.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.started))
	for i, r := range s.started {
		out[i] = r.Name()
	}
	return out
}

func (s *Supervisor) stopStarted() {
	s.mu.Lock()
	started := s.started
	s.started = nil
	s.mu.Unlock()
	for i := len(started) - 1; i >= 0; i-- {
		started[i].Stop()
		logx.Infof("supervisor: %s stopped", started[i].Name())
	}
}

func (s *Supervisor) beat(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			parts := make([]string, len(s.started))
			for i, r := range s.started {
				parts[i] = r.Name()
				if sr, ok := r.(StatusReporter); ok {
					if status := sr.Status(); status != "" {
						parts[i] = status
					}
				}
			}
			uptime := s.clock().Sub(s.startedAt).Round(time.Second)
			s.mu.Unlock()
			logx.Infof("supervisor: heartbeat up=%s running=%d [%s]",
				uptime, len(parts), strings.Join(parts, " | "))
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Stack bundles the components serving one symbol: the market data feed, the
// advisory coordinator with its agents, and the hot loop. Start brings them
// up feed first so the loop never runs ahead of its data; Stop reverses.
type Stack struct {
	symbol string
	layers []Runner
}

// NewStack orders the runners for one symbol's stack. Nil layers are
// skipped so optional components wire cleanly.
func NewStack(symbol string, layers ...Runner) (*Stack, error) {
	if symbol == "" {
		return nil, fmt.Errorf("engine: stack symbol is required")
	}
	kept := make([]Runner, 0, len(layers))
	for _, l := range layers {
		if l != nil {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("engine: stack %s has no layers", symbol)
	}
	return &Stack{symbol: symbol, layers: kept}, nil
}

// Name identifies the stack by its symbol.
func (s *Stack) Name() string { return "stack/" + s.symbol }

// Start brings the layers up in order, unwinding on failure.
func (s *Stack) Start(ctx context.Context) error {
	for i, l := range s.layers {
		if err := l.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				s.layers[j].Stop()
			}
			return fmt.Errorf("engine: stack %s layer %s: %w", s.symbol, l.Name(), err)
		}
	}
	return nil
}

// Stop tears the layers down in reverse order.
func (s *Stack) Stop() {
	for i := len(s.layers) - 1; i >= 0; i-- {
		s.layers[i].Stop()
	}
}

// Status joins the status of every reporting layer.
func (s *Stack) Status() string {
	parts := make([]string, 0, len(s.layers))
	for _, l := range s.layers {
		if sr, ok := l.(StatusReporter); ok {
			if status := sr.Status(); status != "" {
				parts = append(parts, status)
			}
		}
	}
	if len(parts) == 0 {
		return s.Name()
	}
	return strings.Join(parts, " ")
}

// NamedRunner adapts a component with Start/Stop methods into a Runner.
type NamedRunner struct {
	RunnerName string
	StartFn    func(ctx context.Context) error
	StopFn     func()
	StatusFn   func() string
}

func (n NamedRunner) Name() string { return n.RunnerName }

func (n NamedRunner) Start(ctx context.Context) error {
	if n.StartFn == nil {
		return nil
	}
	return n.StartFn(ctx)
}

func (n NamedRunner) Stop() {
	if n.StopFn != nil {
		n.StopFn()
	}
}

// Status reports the wrapped component's state, blank when it has none.
func (n NamedRunner) Status() string {
	if n.StatusFn == nil {
		return ""
	}
	return n.StatusFn()
}

package simulation

import (
	"context"
	"sync"
	"time"
)

// StepFunc advances the simulation by a fixed timestep and may emit side effects.
type StepFunc func(step time.Duration)

// Loop drives a fixed timestep simulation at the configured target frequency.
type Loop struct {
	step     time.Duration
	stepFunc StepFunc
	monitor  *TickMonitor

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// LoopOption customises optional loop behaviour.
type LoopOption func(*Loop)

// WithMonitor records the wall time of every step in the provided monitor.
func WithMonitor(monitor *TickMonitor) LoopOption {
	return func(l *Loop) {
		l.monitor = monitor
	}
}

// NewLoop configures a loop that targets the provided frames per second.
func NewLoop(targetHz float64, step StepFunc, opts ...LoopOption) *Loop {
	if targetHz <= 0 {
		targetHz = 60
	}
	return NewIntervalLoop(time.Duration(float64(time.Second)/targetHz), step, opts...)
}

// NewIntervalLoop configures a loop that steps once per interval.
func NewIntervalLoop(interval time.Duration, step StepFunc, opts ...LoopOption) *Loop {
	if interval <= 0 {
		interval = time.Second / 60
	}
	if step == nil {
		step = func(time.Duration) {}
	}
	loop := &Loop{step: interval, stepFunc: step}
	for _, opt := range opts {
		if opt != nil {
			opt(loop)
		}
	}
	return loop
}

// Start begins ticking until the context is cancelled or the loop is stopped. Starting
// an already started loop is a no-op.
func (l *Loop) Start(ctx context.Context) {
	if l == nil || l.stepFunc == nil {
		return
	}
	l.mu.Lock()
	if l.done != nil {
		l.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	done := make(chan struct{})
	l.done = done
	l.mu.Unlock()

	ticker := time.NewTicker(l.step)
	go func() {
		defer close(done)
		defer ticker.Stop()
		last := time.Now()
		accumulator := time.Duration(0)
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				//1.- Accumulate elapsed time and run fixed steps while catching up.
				accumulator += now.Sub(last)
				last = now
				for accumulator >= l.step {
					//2.- A step may cancel its own loop; stop catching up once it does.
					if ctx.Err() != nil {
						return
					}
					started := time.Now()
					l.stepFunc(l.step)
					l.monitor.Observe(time.Since(started))
					accumulator -= l.step
				}
			}
		}
	}()
}

// Cancel asks the loop to exit without waiting for it. It is safe to call from inside
// a step and any number of times.
func (l *Loop) Cancel() {
	if l == nil {
		return
	}
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stop cancels the loop and waits for the goroutine to exit. Only the first call waits;
// it must not be called from inside a step.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	l.stopOnce.Do(func() {
		l.Cancel()
		l.mu.Lock()
		done := l.done
		l.mu.Unlock()
		if done != nil {
			<-done
		}
	})
}

// Done is closed once the loop goroutine exits. It is nil before Start.
func (l *Loop) Done() <-chan struct{} {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// StepDuration exposes the configured timestep for testing.
func (l *Loop) StepDuration() time.Duration {
	if l == nil {
		return 0
	}
	return l.step
}

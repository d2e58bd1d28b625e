package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/bft-labs/channeld/internal/domain"
	"github.com/bft-labs/channeld/internal/ports"
)

// State is the broker's lifecycle phase.
type State int

const (
	StateStopped State = iota
	StateAttaching
	StateRunning
	StateDraining
	StateCrashed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateAttaching:
		return "Attaching"
	case StateRunning:
		return "Running"
	case StateDraining:
		return "Draining"
	case StateCrashed:
		return "Crashed"
	default:
		return "Unknown"
	}
}

// allowed lists the legal next states for each state.
var allowed = map[State][]State{
	StateStopped:   {StateAttaching},
	StateAttaching: {StateRunning, StateDraining, StateCrashed},
	StateRunning:   {StateDraining, StateCrashed},
	StateDraining:  {StateStopped, StateCrashed},
	StateCrashed:   {StateAttaching},
}

// StateObserver is called when the lifecycle state changes.
type StateObserver interface {
	OnStateChange(previous, current State, reason string)
}

// Lifecycle tracks the broker phase. State may be read from any goroutine.
type Lifecycle struct {
	mu       sync.RWMutex
	state    State
	cancel   context.CancelFunc
	logger   ports.Logger
	observer StateObserver
}

// NewLifecycle creates a lifecycle in StateStopped. observer may be nil.
func NewLifecycle(logger ports.Logger, observer StateObserver) *Lifecycle {
	return &Lifecycle{
		state:    StateStopped,
		logger:   logger,
		observer: observer,
	}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// TransitionTo moves to next. Illegal transitions leave the state unchanged
// and return ErrAlreadyRunning or ErrNotRunning.
func (l *Lifecycle) TransitionTo(next State, reason string) error {
	l.mu.Lock()
	prev := l.state
	ok := false
	for _, s := range allowed[prev] {
		if s == next {
			ok = true
			break
		}
	}
	if !ok {
		l.mu.Unlock()
		if prev == StateStopped || prev == StateCrashed {
			return fmt.Errorf("%s to %s: %w", prev, next, domain.ErrNotRunning)
		}
		return fmt.Errorf("%s to %s: %w", prev, next, domain.ErrAlreadyRunning)
	}
	l.state = next
	l.mu.Unlock()

	if l.observer != nil {
		l.observer.OnStateChange(prev, next, reason)
	}
	l.logger.Info("state transition",
		ports.String("from", prev.String()),
		ports.String("to", next.String()),
		ports.String("reason", reason),
	)
	return nil
}

// CanStart reports whether the broker may be (re)started.
func (l *Lifecycle) CanStart() bool {
	s := l.State()
	return s == StateStopped || s == StateCrashed
}

// CanStop reports whether a stop request would have an effect.
func (l *Lifecycle) CanStop() bool {
	s := l.State()
	return s == StateAttaching || s == StateRunning
}

// SetCancel stores the function that requests shutdown.
func (l *Lifecycle) SetCancel(cancel context.CancelFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancel = cancel
}

// Cancel requests shutdown. It is safe to call before SetCancel.
func (l *Lifecycle) Cancel() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// NotifyObserver forwards lifecycle changes to a service manager.
type NotifyObserver struct {
	Notifier ports.Notifier
	Logger   ports.Logger
}

// OnStateChange implements StateObserver.
func (o NotifyObserver) OnStateChange(_, current State, reason string) {
	var err error
	switch current {
	case StateRunning:
		err = o.Notifier.Ready()
	case StateDraining:
		err = o.Notifier.Stopping()
	default:
		err = o.Notifier.Status(fmt.Sprintf("%s: %s", current, reason))
	}
	if err != nil && o.Logger != nil {
		o.Logger.Debug("service manager notification failed", ports.Err(err))
	}
}

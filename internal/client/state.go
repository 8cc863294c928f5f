package client

import (
	"github.com/JakeFAU/docsort/internal/progress"
)

// State is a position in the socket client state machine.
type State int

// Client states. Retrying is entered after an unexpected drop and leads back
// to Connecting.
const (
	StateIdle State = iota
	StateConnecting
	StateRetrying
	StateAwaitingTrigger
	StateListening
	StateCompleted
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:            "idle",
	StateConnecting:      "connecting",
	StateRetrying:        "retrying",
	StateAwaitingTrigger: "awaiting_trigger",
	StateListening:       "listening",
	StateCompleted:       "completed",
	StateFailed:          "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the state ends an attempt.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Observer receives the caller-visible reactions of an attempt. Callbacks run
// on the attempt's goroutine, except the Idle transition caused by Cancel,
// which runs on the canceller's goroutine.
type Observer interface {
	OnState(State)
	OnEvent(progress.Event)
	OnRetry(Retry)
}

// ObserverFuncs adapts plain functions to Observer; nil fields are skipped.
type ObserverFuncs struct {
	State func(State)
	Event func(progress.Event)
	Retry func(Retry)
}

// OnState implements Observer.
func (o ObserverFuncs) OnState(s State) {
	if o.State != nil {
		o.State(s)
	}
}

// OnEvent implements Observer.
func (o ObserverFuncs) OnEvent(evt progress.Event) {
	if o.Event != nil {
		o.Event(evt)
	}
}

// OnRetry implements Observer.
func (o ObserverFuncs) OnRetry(r Retry) {
	if o.Retry != nil {
		o.Retry(r)
	}
}

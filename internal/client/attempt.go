package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/docsort/internal/progress"
)

var (
	// ErrCancelled is returned by Run after Cancel.
	ErrCancelled = errors.New("attempt cancelled")
	// ErrTriggerFailed wraps a trigger rejection; the attempt is not retried.
	ErrTriggerFailed = errors.New("trigger failed")
	// ErrJobFailed reports a terminal error event from the server.
	ErrJobFailed = errors.New("job failed")
	// ErrRetriesExhausted reports that the supervisor gave up reconnecting.
	ErrRetriesExhausted = errors.New("reconnect retries exhausted")
	// ErrAlreadyStarted is returned when Run is called twice.
	ErrAlreadyStarted = errors.New("attempt already started")
)

// Options configures an Attempt.
type Options struct {
	BaseURL    string
	ProjectID  int64
	Request    Request
	Dialer     Dialer
	Trigger    Trigger
	Supervisor Supervisor
	Observer   Observer
	Logger     *zap.Logger
}

// Result summarizes a finished attempt.
type Result struct {
	State    State
	Message  string
	Progress int
	// Retries is the consecutive retry count when the attempt ended.
	Retries int
}

type outcomeKind int

const (
	outcomeDropped outcomeKind = iota
	outcomeDone
	outcomeStopped
)

type outcome struct {
	kind   outcomeKind
	opened bool
	err    error
}

// Attempt drives one processing attempt through the client state machine.
// Run and Cancel may be called from different goroutines.
type Attempt struct {
	projectID int64
	url       string
	req       Request
	dialer    Dialer
	trigger   Trigger
	sup       Supervisor
	observer  Observer
	logger    *zap.Logger

	mu        sync.Mutex
	state     State
	conn      Conn
	started   bool
	finished  bool
	cancelled bool
	triggered bool
	stopRun   context.CancelFunc
	message   string
	progress  int
}

// NewAttempt validates opts and returns an idle attempt.
func NewAttempt(opts Options) (*Attempt, error) {
	url, err := ChannelURL(opts.BaseURL, opts.ProjectID)
	if err != nil {
		return nil, err
	}
	if err := opts.Request.Params.Validate(opts.Request.Operation); err != nil {
		return nil, fmt.Errorf("attempt request: %w", err)
	}
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.Trigger == nil {
		opts.Trigger = NewHTTPTrigger(opts.BaseURL)
	}
	if opts.Observer == nil {
		opts.Observer = ObserverFuncs{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Attempt{
		projectID: opts.ProjectID,
		url:       url,
		req:       opts.Request,
		dialer:    opts.Dialer,
		trigger:   opts.Trigger,
		sup:       opts.Supervisor,
		observer:  opts.Observer,
		logger: opts.Logger.With(
			zap.Int64("project_id", opts.ProjectID),
			zap.String("operation", string(opts.Request.Operation)),
		),
		state: StateIdle,
	}, nil
}

// URL returns the progress socket URL the attempt dials.
func (a *Attempt) URL() string {
	return a.url
}

// State returns the current state.
func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Run connects, triggers and listens until a terminal event, retry
// exhaustion, Cancel or ctx cancellation.
func (a *Attempt) Run(ctx context.Context) (Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return Result{}, ErrAlreadyStarted
	}
	a.started = true
	if a.cancelled {
		a.finished = true
		a.mu.Unlock()
		return Result{State: StateIdle}, ErrCancelled
	}
	a.stopRun = cancel
	a.mu.Unlock()

	release := context.AfterFunc(ctx, a.closeConn)
	defer release()

	res, err := a.sup.run(ctx, a)
	a.mu.Lock()
	a.finished = true
	a.mu.Unlock()
	return res, err
}

// Cancel closes the active socket, moves the attempt to Idle and suppresses
// any further retry. Calling it again, or after the attempt finished, has no
// effect.
func (a *Attempt) Cancel() {
	a.mu.Lock()
	if a.cancelled || a.finished || a.state.Terminal() {
		a.mu.Unlock()
		return
	}
	a.cancelled = true
	conn := a.conn
	a.conn = nil
	stop := a.stopRun
	a.state = StateIdle
	a.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if stop != nil {
		stop()
	}
	a.observer.OnState(StateIdle)
}

func (a *Attempt) connectOnce(ctx context.Context) outcome {
	if !a.transition(StateConnecting) {
		return outcome{kind: outcomeStopped}
	}
	a.closeConn()

	conn, err := a.dialer.Dial(ctx, a.url)
	if err != nil {
		if a.halted(ctx) {
			return outcome{kind: outcomeStopped}
		}
		return outcome{kind: outcomeDropped, err: err}
	}
	if !a.attach(conn) {
		_ = conn.Close()
		return outcome{kind: outcomeStopped}
	}

	if !a.wasTriggered() {
		if !a.transition(StateAwaitingTrigger) {
			return outcome{kind: outcomeStopped, opened: true}
		}
		if err := a.trigger.Fire(ctx, a.projectID, a.req); err != nil {
			if a.halted(ctx) {
				return outcome{kind: outcomeStopped, opened: true}
			}
			a.closeConn()
			a.finish(StateFailed, err.Error(), -1)
			return outcome{kind: outcomeDone, opened: true, err: fmt.Errorf("%w: %w", ErrTriggerFailed, err)}
		}
		a.markTriggered()
	}

	if !a.transition(StateListening) {
		return outcome{kind: outcomeStopped, opened: true}
	}
	return a.listen(ctx, conn)
}

func (a *Attempt) listen(ctx context.Context, conn Conn) outcome {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if a.halted(ctx) {
				return outcome{kind: outcomeStopped, opened: true}
			}
			return outcome{kind: outcomeDropped, opened: true, err: err}
		}
		evt, err := progress.DecodeEvent(data)
		if err != nil {
			a.logger.Warn("dropping malformed progress frame", zap.Error(err))
			continue
		}
		if evt.ProjectID != a.projectID {
			a.logger.Warn("dropping progress event for another project",
				zap.Int64("event_project_id", evt.ProjectID))
			continue
		}
		a.observer.OnEvent(evt)

		switch evt.Status {
		case progress.StatusProcessing:
			a.record(evt.Message, evt.Progress)
		case progress.StatusCompleted:
			a.closeConn()
			a.finish(StateCompleted, evt.Message, evt.Progress)
			return outcome{kind: outcomeDone, opened: true}
		case progress.StatusError:
			a.closeConn()
			a.finish(StateFailed, evt.Message, -1)
			return outcome{kind: outcomeDone, opened: true, err: fmt.Errorf("%w: %s", ErrJobFailed, evt.Message)}
		}
	}
}

// transition moves to next unless the attempt was cancelled.
func (a *Attempt) transition(next State) bool {
	a.mu.Lock()
	if a.cancelled {
		a.mu.Unlock()
		return false
	}
	a.state = next
	a.mu.Unlock()
	a.observer.OnState(next)
	return true
}

func (a *Attempt) retrying(notice Retry) bool {
	if !a.transition(StateRetrying) {
		return false
	}
	a.logger.Info(notice.String(), zap.Duration("delay", notice.Delay))
	a.observer.OnRetry(notice)
	return true
}

// finish records a terminal state. A negative pct keeps the last progress.
func (a *Attempt) finish(state State, msg string, pct int) {
	a.record(msg, pct)
	a.transition(state)
}

// exhaust ends the attempt after the supervisor gives up: Failed, then Idle.
func (a *Attempt) exhaust(retries int, cause error) (Result, error) {
	a.closeConn()
	a.record("Connection lost. Please try again.", -1)
	res := a.result(retries)
	res.State = StateFailed
	a.mu.Lock()
	a.finished = true
	a.mu.Unlock()
	if a.transition(StateFailed) {
		a.transition(StateIdle)
	}
	if cause == nil {
		return res, ErrRetriesExhausted
	}
	return res, fmt.Errorf("%w: %w", ErrRetriesExhausted, cause)
}

// stop ends an attempt halted by Cancel or ctx.
func (a *Attempt) stop(ctx context.Context, retries int) (Result, error) {
	a.closeConn()
	res := a.result(retries)
	res.State = StateIdle
	a.mu.Lock()
	cancelled := a.cancelled
	a.mu.Unlock()
	if cancelled {
		return res, ErrCancelled
	}
	a.transition(StateIdle)
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("attempt stopped: %w", err)
	}
	return res, ErrCancelled
}

func (a *Attempt) result(retries int) Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Result{State: a.state, Message: a.message, Progress: a.progress, Retries: retries}
}

func (a *Attempt) record(msg string, pct int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.message = msg
	if pct >= 0 {
		a.progress = pct
	}
}

func (a *Attempt) halted(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancelled || ctx.Err() != nil
}

func (a *Attempt) attach(conn Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancelled {
		return false
	}
	a.conn = conn
	return true
}

func (a *Attempt) closeConn() {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (a *Attempt) wasTriggered() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.triggered
}

func (a *Attempt) markTriggered() {
	a.mu.Lock()
	a.triggered = true
	a.mu.Unlock()
}

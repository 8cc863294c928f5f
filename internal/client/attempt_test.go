package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/docsort/internal/docsort"
	"github.com/JakeFAU/docsort/internal/progress"
)

const testProject = 42

type harness struct {
	dialer  *fakeDialer
	trigger *fakeTrigger
	obs     *recorder
	log     *callLog
}

func newHarness(steps ...dialStep) *harness {
	log := &callLog{}
	return &harness{
		dialer:  &fakeDialer{steps: steps, log: log},
		trigger: &fakeTrigger{log: log},
		obs:     &recorder{},
		log:     log,
	}
}

func (h *harness) attempt(t *testing.T, sup Supervisor) *Attempt {
	t.Helper()
	if sup.Backoff == nil {
		sup.Backoff = FixedBackoff(time.Millisecond)
	}
	a, err := NewAttempt(Options{
		BaseURL:    "http://localhost:8000",
		ProjectID:  testProject,
		Request:    Request{Operation: docsort.OperationProcessProject},
		Dialer:     h.dialer,
		Trigger:    h.trigger,
		Supervisor: sup,
		Observer:   h.obs,
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)
	return a
}

func TestAttemptHappyPath(t *testing.T) {
	t.Parallel()

	conn := openConn(
		frame(testProject, progress.StatusProcessing, "Starting processing", 10),
		frame(testProject, progress.StatusProcessing, "Classifying b.pdf (2/3)", 60),
		frame(testProject, progress.StatusCompleted, "Done", 100),
	)
	h := newHarness(dialStep{conn: conn})
	a := h.attempt(t, Supervisor{})

	res, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{State: StateCompleted, Message: "Done", Progress: 100}, res)
	assert.Equal(t, []State{StateConnecting, StateAwaitingTrigger, StateListening, StateCompleted}, h.obs.stateList())
	assert.Equal(t, 3, h.obs.eventCount())
	assert.Equal(t, []string{"dial", "trigger"}, h.log.snapshot())
	assert.Equal(t, []string{"ws://localhost:8000/ws/42"}, h.dialer.urls)
	assert.True(t, conn.isClosed())
	assert.Equal(t, StateCompleted, a.State())
}

func TestAttemptRecoversFromTransientDrop(t *testing.T) {
	t.Parallel()

	h := newHarness(
		dialStep{conn: droppingConn(frame(testProject, progress.StatusProcessing, "Starting processing", 10))},
		dialStep{conn: openConn(frame(testProject, progress.StatusCompleted, "Done", 100))},
	)
	a := h.attempt(t, Supervisor{})

	res, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 100, res.Progress)
	assert.Equal(t, 0, res.Retries)
	require.Len(t, h.obs.retryList(), 1)
	assert.Equal(t, Retry{Attempt: 1, Max: 3, Delay: time.Millisecond}, h.obs.retryList()[0])
	assert.Equal(t, 1, h.trigger.count(), "reconnect must not re-trigger")
	assert.Equal(t, []string{"dial", "trigger", "dial"}, h.log.snapshot())
	assert.Equal(t, []State{
		StateConnecting, StateAwaitingTrigger, StateListening,
		StateRetrying,
		StateConnecting, StateListening, StateCompleted,
	}, h.obs.stateList())
}

func TestAttemptRetryExhaustion(t *testing.T) {
	t.Parallel()

	h := newHarness(
		dialStep{conn: droppingConn()},
		dialStep{err: errors.New("connection refused")},
		dialStep{err: errors.New("connection refused")},
		dialStep{conn: openConn(frame(testProject, progress.StatusCompleted, "Done", 100))},
	)
	a := h.attempt(t, Supervisor{MaxRetries: 3})

	res, err := a.Run(context.Background())
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 3, res.Retries)
	assert.Equal(t, 3, h.dialer.count(), "no fourth connection attempt")
	assert.Equal(t, []Retry{
		{Attempt: 1, Max: 3, Delay: time.Millisecond},
		{Attempt: 2, Max: 3, Delay: time.Millisecond},
	}, h.obs.retryList())
	states := h.obs.stateList()
	require.GreaterOrEqual(t, len(states), 2)
	assert.Equal(t, []State{StateFailed, StateIdle}, states[len(states)-2:])
	assert.Equal(t, StateIdle, a.State())

	a.Cancel()
	assert.Len(t, h.obs.stateList(), len(states), "cancel after exhaustion is a no-op")
}

func TestAttemptSuccessfulOpenResetsRetryCount(t *testing.T) {
	t.Parallel()

	refused := dialStep{err: errors.New("connection refused")}
	h := newHarness(
		dialStep{conn: droppingConn()},
		refused,
		dialStep{conn: droppingConn()},
		refused,
		dialStep{conn: openConn(frame(testProject, progress.StatusCompleted, "Done", 100))},
	)
	a := h.attempt(t, Supervisor{MaxRetries: 3})

	res, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	attempts := make([]int, 0, 4)
	for _, r := range h.obs.retryList() {
		attempts = append(attempts, r.Attempt)
	}
	assert.Equal(t, []int{1, 2, 1, 2}, attempts)
}

func TestAttemptMalformedFrameIsDropped(t *testing.T) {
	t.Parallel()

	h := newHarness(dialStep{conn: openConn(
		"not json at all",
		`{"project_id":42,"status":"bogus","message":"x","progress":5}`,
		frame(7, progress.StatusCompleted, "other project", 100),
		frame(testProject, progress.StatusCompleted, "Done", 100),
	)})
	a := h.attempt(t, Supervisor{})

	res, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, "Done", res.Message)
	assert.Equal(t, 1, h.obs.eventCount())
	assert.Empty(t, h.obs.retryList())
}

func TestAttemptErrorEventIsTerminal(t *testing.T) {
	t.Parallel()

	conn := openConn(
		frame(testProject, progress.StatusProcessing, "Classifying a.pdf (1/2)", 50),
		frame(testProject, progress.StatusError, "agent unavailable", 0),
	)
	h := newHarness(dialStep{conn: conn})
	a := h.attempt(t, Supervisor{})

	res, err := a.Run(context.Background())
	require.ErrorIs(t, err, ErrJobFailed)
	assert.Contains(t, err.Error(), "agent unavailable")
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 50, res.Progress)
	assert.True(t, conn.isClosed())
	assert.Equal(t, 1, h.dialer.count())
}

func TestAttemptTriggerFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	conn := openConn()
	h := newHarness(dialStep{conn: conn})
	h.trigger.err = &TriggerError{StatusCode: 404, Message: "project not found"}
	a := h.attempt(t, Supervisor{})

	res, err := a.Run(context.Background())
	require.ErrorIs(t, err, ErrTriggerFailed)
	var terr *TriggerError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 404, terr.StatusCode)
	assert.Equal(t, StateFailed, res.State)
	assert.True(t, conn.isClosed())
	assert.Equal(t, 1, h.dialer.count())
	assert.Empty(t, h.obs.retryList())
}

func TestAttemptCancelWhileListening(t *testing.T) {
	t.Parallel()

	conn := openConn(frame(testProject, progress.StatusProcessing, "Starting processing", 0))
	h := newHarness(dialStep{conn: conn})
	a := h.attempt(t, Supervisor{})
	h.obs.onState = func(s State) {
		if s == StateListening {
			go a.Cancel()
		}
	}

	done := make(chan struct{})
	var (
		res Result
		err error
	)
	go func() {
		res, err = a.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, StateIdle, res.State)
	assert.True(t, conn.isClosed())
	assert.Equal(t, StateIdle, a.State())

	require.Eventually(t, func() bool {
		states := h.obs.stateList()
		return states[len(states)-1] == StateIdle
	}, time.Second, 5*time.Millisecond)
	before := len(h.obs.stateList())
	a.Cancel()
	a.Cancel()
	assert.Len(t, h.obs.stateList(), before)
	assert.Equal(t, 1, h.dialer.count())
}

func TestAttemptCancelSuppressesPendingRetry(t *testing.T) {
	t.Parallel()

	h := newHarness(dialStep{conn: droppingConn()})
	a := h.attempt(t, Supervisor{Backoff: FixedBackoff(time.Hour)})
	h.obs.onRetry = func(Retry) { go a.Cancel() }

	res, err := a.Run(context.Background())
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, StateIdle, res.State)
	assert.Equal(t, 1, h.dialer.count())
}

func TestAttemptCancelBeforeRun(t *testing.T) {
	t.Parallel()

	h := newHarness(dialStep{conn: openConn()})
	a := h.attempt(t, Supervisor{})
	a.Cancel()

	res, err := a.Run(context.Background())
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, StateIdle, res.State)
	assert.Zero(t, h.dialer.count())

	_, err = a.Run(context.Background())
	require.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestAttemptContextCancellation(t *testing.T) {
	t.Parallel()

	conn := openConn()
	h := newHarness(dialStep{conn: conn})
	a := h.attempt(t, Supervisor{})
	ctx, cancel := context.WithCancel(context.Background())
	h.obs.onState = func(s State) {
		if s == StateListening {
			cancel()
		}
	}

	res, err := a.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateIdle, res.State)
	assert.True(t, conn.isClosed())
}

func TestNewAttemptValidation(t *testing.T) {
	t.Parallel()

	_, err := NewAttempt(Options{BaseURL: "http://localhost", ProjectID: 0,
		Request: Request{Operation: docsort.OperationProcessProject}})
	require.Error(t, err)

	_, err = NewAttempt(Options{BaseURL: "http://localhost", ProjectID: 3,
		Request: Request{Operation: docsort.OperationReclassify}})
	require.Error(t, err)

	a, err := NewAttempt(Options{BaseURL: "https://docs.example.com", ProjectID: 3,
		Request: Request{Operation: docsort.OperationReclassify, Params: docsort.Params{Prompt: "move it"}}})
	require.NoError(t, err)
	assert.Equal(t, "wss://docs.example.com/ws/3", a.URL())
	assert.Equal(t, StateIdle, a.State())
}

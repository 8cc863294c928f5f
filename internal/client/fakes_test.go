package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/JakeFAU/docsort/internal/progress"
)

// fakeConn replays frames, then either drops (io.EOF) or blocks until Close.
type fakeConn struct {
	frames chan []byte
	closed chan struct{}
	drop   bool
	once   sync.Once
}

func openConn(frames ...string) *fakeConn {
	c := &fakeConn{frames: make(chan []byte, len(frames)), closed: make(chan struct{})}
	for _, f := range frames {
		c.frames <- []byte(f)
	}
	return c
}

func droppingConn(frames ...string) *fakeConn {
	c := openConn(frames...)
	c.drop = true
	return c
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	default:
	}
	if c.drop {
		return nil, io.EOF
	}
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type dialStep struct {
	conn *fakeConn
	err  error
}

type fakeDialer struct {
	mu    sync.Mutex
	steps []dialStep
	dials int
	urls  []string
	log   *callLog
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.urls = append(d.urls, url)
	if d.log != nil {
		d.log.add("dial")
	}
	if len(d.steps) == 0 {
		return nil, errors.New("connection refused")
	}
	step := d.steps[0]
	d.steps = d.steps[1:]
	if step.err != nil {
		return nil, step.err
	}
	return step.conn, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type fakeTrigger struct {
	mu    sync.Mutex
	calls []Request
	err   error
	log   *callLog
}

func (t *fakeTrigger) Fire(_ context.Context, _ int64, req Request) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, req)
	if t.log != nil {
		t.log.add("trigger")
	}
	return t.err
}

func (t *fakeTrigger) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	l.calls = append(l.calls, call)
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type recorder struct {
	mu      sync.Mutex
	states  []State
	events  []progress.Event
	retries []Retry
	onState func(State)
	onRetry func(Retry)
}

func (r *recorder) OnState(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	hook := r.onState
	r.mu.Unlock()
	if hook != nil {
		hook(s)
	}
}

func (r *recorder) OnEvent(evt progress.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recorder) OnRetry(n Retry) {
	r.mu.Lock()
	r.retries = append(r.retries, n)
	hook := r.onRetry
	r.mu.Unlock()
	if hook != nil {
		hook(n)
	}
}

func (r *recorder) stateList() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func (r *recorder) retryList() []Retry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Retry(nil), r.retries...)
}

func (r *recorder) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func frame(projectID int64, status progress.Status, msg string, pct int) string {
	return fmt.Sprintf(`{"project_id":%d,"status":%q,"message":%q,"progress":%d}`, projectID, status, msg, pct)
}

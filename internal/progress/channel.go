package progress

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrChannelClosed is returned by Connect after Close.
var ErrChannelClosed = errors.New("progress channel closed")

// Session is one live client connection on a project's channel. Send must not
// block on a slow peer; it returns an error when the event cannot be queued.
type Session interface {
	Send(ctx context.Context, evt Event) error
	Close() error
}

// Subscription is the registry handle for a connected Session.
type Subscription struct {
	projectID int64
	session   Session
}

// ProjectID returns the project the subscription is scoped to.
func (s *Subscription) ProjectID() int64 {
	return s.projectID
}

// Channel tracks live sessions per project id and fans published events out
// to them. It is safe for concurrent use.
type Channel struct {
	mu       sync.RWMutex
	sessions map[int64]map[*Subscription]struct{}
	closed   bool
	logger   *zap.Logger
}

// NewChannel returns an empty registry.
func NewChannel(logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{
		sessions: make(map[int64]map[*Subscription]struct{}),
		logger:   logger,
	}
}

// Connect registers session under projectID. Several sessions may share a
// project id.
func (c *Channel) Connect(projectID int64, session Session) (*Subscription, error) {
	if projectID <= 0 {
		return nil, errors.New("project id must be > 0")
	}
	if session == nil {
		return nil, errors.New("session is required")
	}
	sub := &Subscription{projectID: projectID, session: session}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrChannelClosed
	}
	set := c.sessions[projectID]
	if set == nil {
		set = make(map[*Subscription]struct{})
		c.sessions[projectID] = set
	}
	set[sub] = struct{}{}
	c.logger.Debug("channel session connected",
		zap.Int64("project_id", projectID),
		zap.Int("sessions", len(set)),
	)
	return sub, nil
}

// Disconnect removes sub from the registry. Unknown or already removed
// subscriptions are ignored.
func (c *Channel) Disconnect(sub *Subscription) {
	if sub == nil {
		return
	}
	c.mu.Lock()
	removed := c.removeLocked(sub)
	c.mu.Unlock()
	if removed {
		c.logger.Debug("channel session disconnected", zap.Int64("project_id", sub.projectID))
	}
}

// Publish delivers evt to every session registered for evt.ProjectID. Sessions
// that fail to accept the event are closed and pruned. Publishing to a project
// with no sessions is a no-op.
func (c *Channel) Publish(ctx context.Context, evt Event) {
	targets := c.snapshot(evt.ProjectID)
	if len(targets) == 0 {
		return
	}
	var dead []*Subscription
	for _, sub := range targets {
		if err := sub.session.Send(ctx, evt); err != nil {
			c.logger.Debug("pruning channel session",
				zap.Int64("project_id", evt.ProjectID),
				zap.Error(err),
			)
			dead = append(dead, sub)
		}
	}
	if len(dead) == 0 {
		return
	}
	c.mu.Lock()
	for _, sub := range dead {
		c.removeLocked(sub)
	}
	c.mu.Unlock()
	for _, sub := range dead {
		_ = sub.session.Close()
	}
}

// Sessions returns the number of live sessions for projectID.
func (c *Channel) Sessions(projectID int64) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions[projectID])
}

// Total returns the number of live sessions across all projects.
func (c *Channel) Total() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, set := range c.sessions {
		n += len(set)
	}
	return n
}

// Close disconnects every session and rejects further connects.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	all := c.sessions
	c.sessions = make(map[int64]map[*Subscription]struct{})
	c.mu.Unlock()

	for _, set := range all {
		for sub := range set {
			_ = sub.session.Close()
		}
	}
}

func (c *Channel) snapshot(projectID int64) []*Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set := c.sessions[projectID]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Subscription, 0, len(set))
	for sub := range set {
		out = append(out, sub)
	}
	return out
}

func (c *Channel) removeLocked(sub *Subscription) bool {
	set, ok := c.sessions[sub.projectID]
	if !ok {
		return false
	}
	if _, ok := set[sub]; !ok {
		return false
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(c.sessions, sub.projectID)
	}
	return true
}

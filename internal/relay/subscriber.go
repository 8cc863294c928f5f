package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/docsort/internal/progress"
)

// SubscribeClient is the subset of go-redis used by Subscriber.
type SubscribeClient interface {
	PSubscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// subscription is the part of *redis.PubSub that Run drives.
type subscription interface {
	Receive(ctx context.Context) (interface{}, error)
	Channel(opts ...redis.ChannelOption) <-chan *redis.Message
	Close() error
}

// Subscriber forwards every status message to a local publisher, normally a
// progress.Channel.
type Subscriber struct {
	client    SubscribeClient
	subscribe func(ctx context.Context, pattern string) subscription
	target    progress.Publisher
	logger    *zap.Logger
}

// NewSubscriber builds a Subscriber delivering into target.
func NewSubscriber(client SubscribeClient, target progress.Publisher, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Subscriber{client: client, target: target, logger: logger}
	s.subscribe = func(ctx context.Context, pattern string) subscription {
		return s.client.PSubscribe(ctx, pattern)
	}
	return s
}

// Run subscribes to Pattern and forwards messages until ctx ends.
func (s *Subscriber) Run(ctx context.Context) error {
	if s.client == nil || s.target == nil {
		return errors.New("relay subscriber is not configured")
	}
	ps := s.subscribe(ctx, Pattern)
	defer func() {
		if err := ps.Close(); err != nil {
			s.logger.Debug("close relay subscription", zap.Error(err))
		}
	}()
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe %s: %w", Pattern, err)
	}
	s.logger.Info("relay subscribed", zap.String("pattern", Pattern))

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("relay subscription closed")
			}
			s.handle(ctx, msg)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, msg *redis.Message) {
	projectID, err := ParseChannel(msg.Channel)
	if err != nil {
		s.logger.Debug("ignoring relay message", zap.Error(err))
		return
	}
	evt, err := progress.DecodeEvent([]byte(msg.Payload))
	if err != nil {
		s.logger.Warn("dropping malformed relay message",
			zap.String("channel", msg.Channel),
			zap.Error(err),
		)
		return
	}
	if evt.ProjectID != projectID {
		s.logger.Warn("relay message project mismatch",
			zap.Int64("channel_project_id", projectID),
			zap.Int64("event_project_id", evt.ProjectID),
		)
		return
	}
	s.target.Publish(ctx, evt)
}

// Package relay carries progress events between processes over Redis
// pub/sub. Workers publish to "project:{id}:status"; API servers subscribe to
// the pattern and feed the local progress.Channel.
package relay

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/docsort/internal/progress"
)

const (
	channelPrefix = "project:"
	channelSuffix = ":status"
	// Pattern matches every project's status channel.
	Pattern = channelPrefix + "*" + channelSuffix
)

// ChannelName returns the Redis channel for a project's status events.
func ChannelName(projectID int64) string {
	return channelPrefix + strconv.FormatInt(projectID, 10) + channelSuffix
}

// ParseChannel extracts the project id from a status channel name.
func ParseChannel(name string) (int64, error) {
	if !strings.HasPrefix(name, channelPrefix) || !strings.HasSuffix(name, channelSuffix) {
		return 0, fmt.Errorf("unexpected channel %q", name)
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, channelPrefix), channelSuffix)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid project id in channel %q", name)
	}
	return id, nil
}

// PublishClient is the subset of go-redis used by Publisher.
type PublishClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Publisher implements progress.Publisher on Redis PUBLISH. Failures are
// logged, never returned.
type Publisher struct {
	client PublishClient
	logger *zap.Logger
}

// NewPublisher wraps client.
func NewPublisher(client PublishClient, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{client: client, logger: logger}
}

// Publish sends evt to its project's status channel.
func (p *Publisher) Publish(ctx context.Context, evt progress.Event) {
	data, err := evt.Encode()
	if err != nil {
		p.logger.Warn("encode relay event", zap.Error(err))
		return
	}
	if err := p.client.Publish(ctx, ChannelName(evt.ProjectID), data).Err(); err != nil {
		p.logger.Warn("relay publish failed",
			zap.Int64("project_id", evt.ProjectID),
			zap.String("status", string(evt.Status)),
			zap.Error(err),
		)
	}
}

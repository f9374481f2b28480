package redis

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"rankboard/core"
)

// Listener bridges the cross-process pub/sub channel back into an
// in-process change publisher, so viewers connected to one server see
// mutations made through another.
type Listener struct {
	client *redis.Client
	pub    Publisher
	logger *slog.Logger
	sub    *redis.PubSub
	done   chan struct{}
}

func NewListener(client *redis.Client, pub Publisher, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{client: client, pub: pub, logger: logger, done: make(chan struct{})}
}

// Start subscribes to the change channel and forwards decoded changes
// until Close.
func (l *Listener) Start(ctx context.Context) {
	l.sub = l.client.Subscribe(ctx, Channel)
	go func() {
		defer close(l.done)
		for msg := range l.sub.Channel() {
			var ch core.Change
			if err := json.Unmarshal([]byte(msg.Payload), &ch); err != nil {
				l.logger.Warn("dropping malformed change notification", "error", err)
				continue
			}
			l.pub.Publish(context.Background(), ch)
		}
	}()
}

func (l *Listener) Close() error {
	if l.sub == nil {
		return nil
	}
	err := l.sub.Close()
	<-l.done
	return err
}

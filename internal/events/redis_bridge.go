package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const handlerChangedChannel = "inquiry-router:handler_changed"

// RedisBridge fans handler_changed events out to other router
// instances over redis pub/sub. Delivery is best effort in both
// directions; the periodic routing sweep remains the correctness
// backstop when a notification is lost.
type RedisBridge struct {
	client     *redis.Client
	dispatcher Dispatcher
	logger     *zap.Logger
}

// NewRedisBridge wires the bridge onto the local dispatcher.
func NewRedisBridge(client *redis.Client, dispatcher Dispatcher, logger *zap.Logger) *RedisBridge {
	bridge := &RedisBridge{client: client, dispatcher: dispatcher, logger: logger}
	dispatcher.Subscribe(EventHandlerChanged, bridge.publishRemote)
	return bridge
}

func (b *RedisBridge) publishRemote(ctx context.Context, event Event) error {
	if b.client == nil {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, handlerChangedChannel, body).Err(); err != nil {
		b.logger.Warn("handler change publish failed", zap.Error(err))
	}
	return nil
}

// Run consumes remote handler changes until the context is cancelled,
// republishing them on the local dispatcher so the routing engine can
// react. Local republication skips the remote hop to avoid echo.
func (b *RedisBridge) Run(ctx context.Context, onRemote func(context.Context, Event)) {
	if b.client == nil {
		return
	}
	sub := b.client.Subscribe(ctx, handlerChangedChannel)
	defer sub.Close() //nolint:errcheck

	channel := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-channel:
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warn("malformed handler change message", zap.Error(err))
				continue
			}
			onRemote(ctx, event)
		}
	}
}

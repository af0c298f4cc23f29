package redisclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointments/internal/notify"
)

// Relay shares appointment events between api-server instances over a Redis
// Pub/Sub channel. Every instance publishes its own changes to the channel
// and feeds whatever arrives into its local hub.
type Relay struct {
	client  *redis.Client
	channel string
	hub     *notify.Hub
	log     *zap.Logger
}

func NewRelay(client *redis.Client, channel string, hub *notify.Hub, log *zap.Logger) *Relay {
	return &Relay{
		client:  client,
		channel: channel,
		hub:     hub,
		log:     log,
	}
}

// Forward implements notify.Forwarder.
func (r *Relay) Forward(ctx context.Context, ev notify.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Run subscribes and delivers events to the hub until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.log.Info("event relay subscribed", zap.String("channel", r.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver(ctx, msg.Payload)
		}
	}
}

func (r *Relay) deliver(ctx context.Context, payload string) {
	var ev notify.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		r.log.Warn("drop malformed relay message", zap.Error(err))
		return
	}
	r.hub.Publish(ctx, ev)
}

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/projectpulse/projectpulse/internal/realtime"
)

const eventChannel = "project-events"

// Relay bridges fan-out events between instances via Redis Pub/Sub: local
// events are published to the shared channel, remote events are handed to the
// broadcaster for local delivery.
type Relay struct {
	rdb    *goredis.Client
	sub    *goredis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRelay(rdb *goredis.Client) *Relay {
	return &Relay{rdb: rdb}
}

// Publish sends one relay event to the shared channel.
func (r *Relay) Publish(ctx context.Context, event realtime.RelayEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal relay event: %w", err)
	}
	return r.rdb.Publish(ctx, eventChannel, data).Err()
}

// Start subscribes to the shared channel and delivers remote events to
// handle until Close is called.
func (r *Relay) Start(ctx context.Context, handle func(realtime.RelayEvent)) {
	subCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.sub = r.rdb.Subscribe(subCtx, eventChannel)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		msgCh := r.sub.Channel()
		for {
			select {
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				var event realtime.RelayEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					slog.Warn("Failed to unmarshal relay event", "error", err)
					continue
				}
				handle(event)
			case <-subCtx.Done():
				return
			}
		}
	}()
}

// Close unsubscribes and waits for the delivery goroutine to exit.
func (r *Relay) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.sub != nil {
		_ = r.sub.Close()
	}
	if r.done != nil {
		<-r.done
	}
}

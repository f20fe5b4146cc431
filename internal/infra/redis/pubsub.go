package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"quizmaster/internal/app"
	"quizmaster/internal/domain"
	"quizmaster/internal/metrics"
)

// DefaultChannel prefixes the per-game pub/sub channels.
const DefaultChannel = "quizmaster:events"

// Publisher sends engine events to every instance over Redis pub/sub on
// {channel}:{gameID}. It implements app.Broadcaster; delivery is best effort.
type Publisher struct {
	client  *redis.Client
	channel string
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewPublisher(client *redis.Client, channel string, log *slog.Logger, m *metrics.Metrics) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{client: client, channel: channel, log: log, metrics: m}
}

var _ app.Broadcaster = (*Publisher)(nil)

func (p *Publisher) Broadcast(ctx context.Context, ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.fail(ctx, ev, err)
		return
	}
	if err := p.client.Publish(ctx, p.channel+":"+ev.GameID, payload).Err(); err != nil {
		p.fail(ctx, ev, err)
	}
}

func (p *Publisher) fail(ctx context.Context, ev domain.Event, err error) {
	p.metrics.BroadcastFailed()
	p.log.WarnContext(ctx, "publish event", "game_id", ev.GameID, "type", string(ev.Type), "error", err)
}

// Relay feeds events published by any instance into a local broadcaster,
// usually the app.Hub serving this instance's websocket viewers.
type Relay struct {
	client  *redis.Client
	channel string
	local   app.Broadcaster
	log     *slog.Logger
}

func NewRelay(client *redis.Client, channel string, local app.Broadcaster, log *slog.Logger) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = slog.Default()
	}
	return &Relay{client: client, channel: channel, local: local, log: log}
}

// Run subscribes to every game channel and blocks until ctx is done. ready,
// when not nil, is closed once the subscription is confirmed.
func (r *Relay) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := r.client.PSubscribe(ctx, r.channel+":*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	if ready != nil {
		close(ready)
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			r.deliver(ctx, msg)
		}
	}
}

func (r *Relay) deliver(ctx context.Context, msg *redis.Message) {
	var ev domain.Event
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		r.log.WarnContext(ctx, "drop malformed event", "channel", msg.Channel, "error", err)
		return
	}
	if ev.GameID == "" {
		ev.GameID = strings.TrimPrefix(msg.Channel, r.channel+":")
	}
	r.local.Broadcast(ctx, ev)
}

package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatusEvent is the payload published on a booking's event channel.
type StatusEvent struct {
	BookingID string    `json:"booking_id"`
	Status    Status    `json:"status"`
	At        time.Time `json:"at"`
}

func eventChannel(bookingID string) string {
	return "booking:" + bookingID
}

// RedisEvents publishes booking status changes over Redis pub/sub, one channel
// per booking id. Clients subscribe to react to provider accept/reject without
// polling. Events are ephemeral; the bookings table remains authoritative.
type RedisEvents struct {
	rdb   *redis.Client
	clock func() time.Time
}

func NewRedisEvents(rdb *redis.Client) *RedisEvents {
	return &RedisEvents{rdb: rdb, clock: time.Now}
}

func (e *RedisEvents) PublishStatus(ctx context.Context, bookingID string, status Status) error {
	if e.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}
	payload, err := json.Marshal(StatusEvent{
		BookingID: bookingID,
		Status:    status,
		At:        e.clock().UTC(),
	})
	if err != nil {
		return err
	}
	return e.rdb.Publish(ctx, eventChannel(bookingID), payload).Err()
}

// SubscribeStatus delivers status events for one booking until ctx is
// cancelled. Malformed payloads are skipped.
func (e *RedisEvents) SubscribeStatus(ctx context.Context, bookingID string) (<-chan StatusEvent, error) {
	if e.rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}

	sub := e.rdb.Subscribe(ctx, eventChannel(bookingID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan StatusEvent)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev StatusEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// MemoryEvents records published events; useful for tests.
type MemoryEvents struct {
	Events []StatusEvent
}

func (e *MemoryEvents) PublishStatus(ctx context.Context, bookingID string, status Status) error {
	e.Events = append(e.Events, StatusEvent{BookingID: bookingID, Status: status})
	return nil
}

// Package notify delivers in-app notifications. Delivery is best effort:
// money movement never depends on a notification landing.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Categories group notifications for client-side filtering.
const (
	CategoryBooking = "booking"
	CategoryPayment = "payment"
	CategoryPayout  = "payout"
)

type Notification struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

// Dispatcher delivers a notification to one account.
type Dispatcher interface {
	Notify(ctx context.Context, accountID, title, message, category string) error
}

// RedisDispatcher pushes notifications onto a per-account Redis list that
// clients drain newest-first. Lists are capped so an idle account does not
// grow unbounded.
type RedisDispatcher struct {
	client *redis.Client
	keep   int64
	clock  func() time.Time
}

func NewRedisDispatcher(client *redis.Client) *RedisDispatcher {
	return &RedisDispatcher{client: client, keep: 100, clock: time.Now}
}

func listKey(accountID string) string {
	return "notifications:" + accountID
}

func (d *RedisDispatcher) Notify(ctx context.Context, accountID, title, message, category string) error {
	n := Notification{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Title:     title,
		Message:   message,
		Category:  category,
		CreatedAt: d.clock().UTC(),
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	key := listKey(accountID)
	pipe := d.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, d.keep-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pushing notification for %s: %w", accountID, err)
	}
	return nil
}

// Recent returns up to limit notifications for an account, newest first.
func (d *RedisDispatcher) Recent(ctx context.Context, accountID string, limit int64) ([]Notification, error) {
	if limit <= 0 || limit > d.keep {
		limit = d.keep
	}
	raw, err := d.client.LRange(ctx, listKey(accountID), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading notifications for %s: %w", accountID, err)
	}
	out := make([]Notification, 0, len(raw))
	for _, item := range raw {
		var n Notification
		if err := json.Unmarshal([]byte(item), &n); err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// MemoryDispatcher records notifications for tests.
type MemoryDispatcher struct {
	mu   sync.Mutex
	Sent []Notification

	// Err forces Notify to fail so callers' best-effort handling can be
	// exercised.
	Err error
}

func (m *MemoryDispatcher) Notify(ctx context.Context, accountID, title, message, category string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, Notification{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Title:     title,
		Message:   message,
		Category:  category,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// ForAccount returns recorded notifications for one account.
func (m *MemoryDispatcher) ForAccount(accountID string) []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Notification
	for _, n := range m.Sent {
		if n.AccountID == accountID {
			out = append(out, n)
		}
	}
	return out
}

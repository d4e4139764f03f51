// Package alert reports ledger inconsistencies that need operator attention.
package alert

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Alert kinds.
const (
	KindUnwindFailed  = "unwind_failed"
	KindDanglingHead  = "dangling_head"
	KindMultipleHeads = "multiple_heads"
	KindBrokenLink    = "broken_link"
	KindRepairFailed  = "repair_failed"
)

// Alert describes a single inconsistency.
type Alert struct {
	Kind    string            `json:"kind"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs,omitempty"`
	At      time.Time         `json:"at"`
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Log writes alerts to the default logger at error level.
type Log struct{}

func (Log) Notify(_ context.Context, a Alert) error {
	args := []any{"kind", a.Kind}
	for k, v := range a.Attrs {
		args = append(args, k, v)
	}
	slog.Error(a.Message, args...)
	return nil
}

// Redis publishes alerts as JSON on a pub/sub channel.
type Redis struct {
	Client  *redis.Client
	Channel string
}

func (r Redis) Notify(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return r.Client.Publish(ctx, r.Channel, payload).Err()
}

// Multi fans an alert out to every notifier.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

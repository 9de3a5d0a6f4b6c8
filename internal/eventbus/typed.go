// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package eventbus

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/tomtom215/waypoint/internal/logging"
)

// On subscribes a typed listener. Payloads that do not decode into T are
// logged and skipped.
func On[T any](b *Bus, channel string, fn func(ctx context.Context, event T)) (*Subscription, error) {
	return b.On(channel, decoding(b, channel, fn))
}

// Once subscribes a typed listener for a single delivery.
func Once[T any](b *Bus, channel string, fn func(ctx context.Context, event T)) (*Subscription, error) {
	return b.Once(channel, decoding(b, channel, fn))
}

// Emit is Bus.Emit with a typed payload.
func Emit[T any](ctx context.Context, b *Bus, channel string, event T) error {
	return b.Emit(ctx, channel, event)
}

func decoding[T any](b *Bus, channel string, fn func(ctx context.Context, event T)) Listener {
	return func(ctx context.Context, payload []byte) {
		var event T
		if err := json.Unmarshal(payload, &event); err != nil {
			logging.Ctx(ctx).Error().
				Err(err).
				Str("bus", b.name).
				Str("topic", channel).
				Msg("Failed to decode event payload")
			return
		}
		fn(ctx, event)
	}
}

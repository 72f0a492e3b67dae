package admission

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"admission-gateway/internal/common/errors"

	"github.com/google/uuid"
)

// WindowStore is the part of the shared store the sliding window needs
type WindowStore interface {
	RecordAndCount(ctx context.Context, key, member string, now time.Time, window time.Duration) (int64, error)
	OldestEntry(ctx context.Context, key string) (time.Time, bool, error)
}

// SlidingWindow counts attempts per bucket over a trailing time window
type SlidingWindow struct {
	store WindowStore
}

func NewSlidingWindow(store WindowStore) *SlidingWindow {
	return &SlidingWindow{store: store}
}

// BucketKey returns the window bucket for a path and client identity
func BucketKey(path, identity string) string {
	return windowKeyPrefix + strings.ReplaceAll(path, "/", ":") + ":" + identity
}

// RecordAndCount records entry at now and returns the number of attempts in
// the window before it. Each entry gets a fresh id so that two attempts in
// the same millisecond are both kept.
func (w *SlidingWindow) RecordAndCount(ctx context.Context, key string, entry WindowEntry, now time.Time, window time.Duration) (int64, error) {
	entry.ID = uuid.NewString()
	entry.Timestamp = float64(now.UnixMicro()) / 1e6

	member, err := json.Marshal(entry)
	if err != nil {
		return 0, errors.SerializationError("failed to encode window entry", err)
	}
	return w.store.RecordAndCount(ctx, key, string(member), now, window)
}

// ResetTime returns when the oldest attempt in the bucket leaves the window.
// An empty bucket resets one window from now.
func (w *SlidingWindow) ResetTime(ctx context.Context, key string, now time.Time, window time.Duration) (time.Time, error) {
	oldest, ok, err := w.store.OldestEntry(ctx, key)
	if err != nil || !ok {
		return now.Add(window), err
	}
	return oldest.Add(window), nil
}

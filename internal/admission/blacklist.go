package admission

import (
	"context"
	"strings"
	"time"

	"admission-gateway/internal/common/errors"
	"admission-gateway/internal/common/logging"
)

// BlacklistStore is the part of the shared store the registry needs
type BlacklistStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	GetJSON(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, key string) (bool, error)
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
	Publish(ctx context.Context, channel string, message interface{}) error
}

// BlacklistEntry is a TTL-bound hard deny for one address
type BlacklistEntry struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SecurityEvent is published on SecurityEventsChannel
type SecurityEvent struct {
	Type      string    `json:"type"`
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	ExpiresAt time.Time `json:"expires_at"`
	Timestamp time.Time `json:"timestamp"`
}

const eventIPBlacklisted = "ip_blacklisted"

// BlacklistRegistry stores and queries blacklist entries
type BlacklistRegistry struct {
	store  BlacklistStore
	logger logging.Logger
	now    Clock
}

func NewBlacklistRegistry(store BlacklistStore, logger logging.Logger, clock Clock) *BlacklistRegistry {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if clock == nil {
		clock = time.Now
	}
	return &BlacklistRegistry{store: store, logger: logger, now: clock}
}

func blacklistKey(ip string) string {
	return blacklistKeyPrefix + ip
}

// IsBlacklisted reports whether ip has a live entry
func (b *BlacklistRegistry) IsBlacklisted(ctx context.Context, ip string) (bool, error) {
	return b.store.Exists(ctx, blacklistKey(ip))
}

// Add writes an entry for ip that expires after ttl, replacing any existing
// one. The write is acknowledged before Add returns; the security event that
// follows is best effort.
func (b *BlacklistRegistry) Add(ctx context.Context, ip, reason string, ttl time.Duration) (*BlacklistEntry, error) {
	if ip == "" {
		return nil, errors.ValidationError("ip is required")
	}
	if ttl <= 0 {
		return nil, errors.ValidationError("ttl must be positive")
	}

	now := b.now().UTC()
	entry := &BlacklistEntry{
		IP:        ip,
		Reason:    reason,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	if err := b.store.Set(ctx, blacklistKey(ip), entry, ttl); err != nil {
		return nil, err
	}

	b.logger.Warn("IP blacklisted for security violation",
		logging.String("ip", ip),
		logging.String("reason", reason),
		logging.Duration("duration", ttl),
	)

	event := SecurityEvent{
		Type:      eventIPBlacklisted,
		IP:        ip,
		Reason:    reason,
		ExpiresAt: entry.ExpiresAt,
		Timestamp: now,
	}
	if err := b.store.Publish(ctx, SecurityEventsChannel, event); err != nil {
		b.logger.Error("Failed to publish security event", err, logging.String("ip", ip))
	}

	return entry, nil
}

// Get returns the entry for ip or a not_found error
func (b *BlacklistRegistry) Get(ctx context.Context, ip string) (*BlacklistEntry, error) {
	var entry BlacklistEntry
	if err := b.store.GetJSON(ctx, blacklistKey(ip), &entry); err != nil {
		return nil, err
	}
	if entry.IP == "" {
		entry.IP = ip
	}
	return &entry, nil
}

// Remove deletes the entry for ip and reports whether one existed
func (b *BlacklistRegistry) Remove(ctx context.Context, ip string) (bool, error) {
	removed, err := b.store.Delete(ctx, blacklistKey(ip))
	if err == nil && removed {
		b.logger.Info("IP removed from blacklist", logging.String("ip", ip))
	}
	return removed, err
}

// List returns every live entry. Entries that expire between the scan and
// the read are skipped.
func (b *BlacklistRegistry) List(ctx context.Context) ([]BlacklistEntry, error) {
	keys, err := b.store.ScanKeys(ctx, blacklistKeyPrefix+"*")
	if err != nil {
		return nil, err
	}

	entries := make([]BlacklistEntry, 0, len(keys))
	for _, key := range keys {
		entry, err := b.Get(ctx, strings.TrimPrefix(key, blacklistKeyPrefix))
		if errors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

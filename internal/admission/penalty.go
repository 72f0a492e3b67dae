package admission

import (
	"context"
	"math"
	"time"

	"admission-gateway/internal/common/logging"
)

// CounterStore is the part of the shared store the penalty tracker needs
type CounterStore interface {
	GetInt(ctx context.Context, key string) (int64, error)
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// PenaltyTracker counts violations per address and escalates repeat
// offenders to the blacklist. Counters only decay through their TTL.
type PenaltyTracker struct {
	store     CounterStore
	blacklist *BlacklistRegistry
	tuning    Tuning
	logger    logging.Logger
}

func NewPenaltyTracker(store CounterStore, blacklist *BlacklistRegistry, tuning Tuning, logger logging.Logger) *PenaltyTracker {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &PenaltyTracker{
		store:     store,
		blacklist: blacklist,
		tuning:    tuning,
		logger:    logger,
	}
}

// ViolationKey is the counter key for ip
func ViolationKey(ip string) string {
	return violationKeyPrefix + ip
}

// PenaltyMultiplier returns min(PenaltyCap, PenaltyBase^violations)
func PenaltyMultiplier(violations int64) float64 {
	if violations <= 0 {
		return 1
	}
	return math.Min(PenaltyCap, math.Pow(PenaltyBase, float64(violations)))
}

// EffectiveLimit divides limit by multiplier, never going below one
func EffectiveLimit(limit int, multiplier float64) int {
	if multiplier < 1 {
		multiplier = 1
	}
	effective := int(math.Floor(float64(limit) / multiplier))
	if effective < 1 {
		return 1
	}
	return effective
}

// Violations returns the live violation count for ip
func (p *PenaltyTracker) Violations(ctx context.Context, ip string) (int64, error) {
	return p.store.GetInt(ctx, ViolationKey(ip))
}

// Multiplier returns the current penalty multiplier for ip
func (p *PenaltyTracker) Multiplier(ctx context.Context, ip string) (float64, error) {
	if !p.tuning.PenaltiesEnabled || ip == "" {
		return 1, nil
	}
	violations, err := p.Violations(ctx, ip)
	if err != nil {
		return 1, err
	}
	return PenaltyMultiplier(violations), nil
}

// RecordViolation increments the counter for ip, refreshing its TTL, and
// blacklists ip once the count reaches the threshold.
func (p *PenaltyTracker) RecordViolation(ctx context.Context, ip, endpoint string) (int64, error) {
	if ip == "" {
		return 0, nil
	}

	count, err := p.store.IncrWithTTL(ctx, ViolationKey(ip), ViolationTTL)
	if err != nil {
		return 0, err
	}

	p.logger.Warn("Rate limit violation recorded",
		logging.String("ip", ip),
		logging.String("endpoint", endpoint),
		logging.Int64("violation_count", count),
	)

	if p.tuning.BlacklistEnabled && p.blacklist != nil && count >= p.tuning.BlacklistThreshold {
		if _, err := p.blacklist.Add(ctx, ip, ReasonExcessiveViolations, BlacklistTTL); err != nil {
			return count, err
		}
	}
	return count, nil
}

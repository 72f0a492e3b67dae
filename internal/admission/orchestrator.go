package admission

import (
	"context"
	"fmt"
	"time"

	"admission-gateway/internal/common/logging"

	"golang.org/x/time/rate"
)

// Store is everything admission needs from the shared store
type Store interface {
	WindowStore
	CounterStore
	BlacklistStore
}

// Request carries the inputs of one admission decision
type Request struct {
	// Key is the window bucket, see BucketKey
	Key      string
	IP       string
	Endpoint string
	Limit    int
	Window   time.Duration
}

// Options configure an Orchestrator. Zero values select production tuning,
// the burst analyzer, the global logger and the wall clock.
type Options struct {
	Tuning   *Tuning
	Analyzer ThreatAnalyzer
	Logger   logging.Logger
	Clock    Clock
}

// Orchestrator composes blacklist, penalties, window and threat analysis into
// a single allow/deny decision.
type Orchestrator struct {
	window    *SlidingWindow
	penalties *PenaltyTracker
	blacklist *BlacklistRegistry
	analyzer  ThreatAnalyzer
	tuning    Tuning
	logger    logging.Logger
	// storeLog throttles fail-open warnings while the store is down
	storeLog logging.Logger
	now      Clock
}

func NewOrchestrator(store Store, opts Options) *Orchestrator {
	tuning := ProductionTuning()
	if opts.Tuning != nil {
		tuning = *opts.Tuning
	}
	if opts.Analyzer == nil {
		opts.Analyzer = BurstAnalyzer{SuspiciousThreshold: tuning.SuspiciousThreshold}
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetGlobalLogger()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	blacklist := NewBlacklistRegistry(store, opts.Logger, opts.Clock)
	return &Orchestrator{
		window:    NewSlidingWindow(store),
		penalties: NewPenaltyTracker(store, blacklist, tuning, opts.Logger),
		blacklist: blacklist,
		analyzer:  opts.Analyzer,
		tuning:    tuning,
		logger:    opts.Logger,
		storeLog:  logging.NewSampled(opts.Logger, rate.Every(10*time.Second), 1),
		now:       opts.Clock,
	}
}

// Blacklist exposes the registry for administration
func (o *Orchestrator) Blacklist() *BlacklistRegistry {
	return o.blacklist
}

// Penalties exposes the tracker for administration
func (o *Orchestrator) Penalties() *PenaltyTracker {
	return o.penalties
}

// Admit decides whether req may proceed. It never fails: store errors and
// panics produce an allowed result carrying the baseline limit.
func (o *Orchestrator) Admit(ctx context.Context, req Request) (result Result) {
	now := o.now()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Admission check failed", fmt.Errorf("panic: %v", r),
				logging.String("key", req.Key),
				logging.String("ip", req.IP),
			)
			result = o.failOpen(req, now)
		}
	}()

	if req.Limit < 1 || req.Window <= 0 {
		o.logger.Error("Invalid admission request", nil,
			logging.String("key", req.Key),
			logging.Int("limit", req.Limit),
			logging.Duration("window", req.Window),
		)
		return o.failOpen(req, now)
	}

	blacklisted, err := o.blacklist.IsBlacklisted(ctx, req.IP)
	if err != nil {
		o.storeWarn("blacklist_check", err, req)
	}
	if blacklisted {
		o.logger.Warn("Blacklisted IP attempted access",
			logging.String("ip", req.IP),
			logging.String("endpoint", req.Endpoint),
			logging.String("key", req.Key),
		)
		security := defaultSecurityInfo()
		security.ThreatLevel = ThreatCritical
		security.Blacklisted = true
		return Result{
			Allowed:   false,
			Limit:     req.Limit,
			Remaining: 0,
			ResetTime: now.Add(BlacklistRetryAfter),
			Security:  security,
		}
	}

	multiplier, err := o.penalties.Multiplier(ctx, req.IP)
	if err != nil {
		o.storeWarn("penalty_lookup", err, req)
		multiplier = 1
	}
	effective := EffectiveLimit(req.Limit, multiplier)

	entry := WindowEntry{IP: req.IP, Endpoint: req.Endpoint, ThreatLevel: ThreatLow}
	count, err := o.window.RecordAndCount(ctx, req.Key, entry, now, req.Window)
	if err != nil {
		o.storeWarn("record_and_count", err, req)
		return o.failOpen(req, now)
	}

	security := o.analyzer.Analyze(count, req.Window)
	security.PenaltyMultiplier = multiplier
	if security.IsSuspicious {
		o.logger.Warn("Suspicious burst activity detected",
			logging.String("ip", req.IP),
			logging.String("endpoint", req.Endpoint),
			logging.Int64("request_count", count),
			logging.Duration("window", req.Window),
		)
	}

	if count >= int64(effective) {
		if _, err := o.penalties.RecordViolation(ctx, req.IP, req.Endpoint); err != nil {
			o.storeWarn("record_violation", err, req)
		}

		reset, err := o.window.ResetTime(ctx, req.Key, now, req.Window)
		if err != nil {
			o.storeWarn("oldest_entry", err, req)
		}
		reset = now.Add(time.Duration(float64(reset.Sub(now)) * multiplier))

		o.logger.Warn("Rate limit exceeded",
			logging.String("key", req.Key),
			logging.String("ip", req.IP),
			logging.String("endpoint", req.Endpoint),
			logging.Int64("request_count", count),
			logging.Int("effective_limit", effective),
			logging.Float64("penalty_multiplier", multiplier),
			logging.String("threat_level", string(security.ThreatLevel)),
		)

		return Result{
			Allowed:        false,
			Limit:          req.Limit,
			EffectiveLimit: effective,
			Remaining:      0,
			ResetTime:      reset,
			Security:       security,
		}
	}

	return Result{
		Allowed:        true,
		Limit:          req.Limit,
		EffectiveLimit: effective,
		Remaining:      effective - int(count) - 1,
		ResetTime:      now.Add(req.Window),
		Security:       security,
	}
}

func (o *Orchestrator) failOpen(req Request, now time.Time) Result {
	return Result{
		Allowed:        true,
		Limit:          req.Limit,
		EffectiveLimit: req.Limit,
		Remaining:      req.Limit,
		ResetTime:      now.Add(req.Window),
		Security:       defaultSecurityInfo(),
		FailOpen:       true,
	}
}

func (o *Orchestrator) storeWarn(op string, err error, req Request) {
	o.storeLog.Warn("Shared store unavailable, failing open",
		logging.String("operation", op),
		logging.String("key", req.Key),
		logging.String("ip", req.IP),
		logging.Err(err),
	)
}

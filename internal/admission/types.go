// Package admission decides, per inbound request, whether a client may
// proceed. It combines a sliding-window counter kept in the shared store
// with progressive penalties, automatic blacklisting and a spoof-resistant
// client identity. Every failure of the store fails open.
package admission

import (
	"time"
)

// ThreatLevel grades how aggressive a client currently looks
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

// Penalty curve and record lifetimes
const (
	// PenaltyBase is raised to the violation count to get the multiplier
	PenaltyBase = 2.0
	// PenaltyCap is the largest multiplier ever applied
	PenaltyCap = 8.0

	// ViolationTTL is refreshed on every violation
	ViolationTTL = 24 * time.Hour
	// BlacklistTTL is how long an automatic blacklist entry lasts
	BlacklistTTL = 24 * time.Hour
	// BlacklistRetryAfter is the reset time reported to blacklisted clients
	BlacklistRetryAfter = time.Hour

	// ReasonExcessiveViolations marks entries created by the penalty tracker
	ReasonExcessiveViolations = "excessive_violations"
)

// Store key layout
const (
	windowKeyPrefix    = "rate_limit:"
	violationKeyPrefix = "violations:"
	blacklistKeyPrefix = "blacklist:ip:"

	// SecurityEventsChannel receives a message for every new blacklist entry
	SecurityEventsChannel = "security:events"
)

// SecurityInfo describes the threat assessment attached to a decision
type SecurityInfo struct {
	ThreatLevel       ThreatLevel `json:"threat_level"`
	IsSuspicious      bool        `json:"is_suspicious"`
	PenaltyMultiplier float64     `json:"progressive_penalty"`
	Blacklisted       bool        `json:"blacklisted"`
}

// Result is the outcome of one admission decision
type Result struct {
	Allowed bool
	// Limit is the policy limit before penalties
	Limit int
	// EffectiveLimit is Limit reduced by the penalty multiplier
	EffectiveLimit int
	Remaining      int
	ResetTime      time.Time
	Security       SecurityInfo
	// FailOpen is set when the decision was taken without a working store
	FailOpen bool
}

// Error codes reported for denied requests
const (
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	CodeIPBlacklisted      = "IP_BLACKLISTED"
	CodeSuspiciousActivity = "SUSPICIOUS_ACTIVITY_DETECTED"
	CodeProgressiveLimit   = "PROGRESSIVE_RATE_LIMIT_EXCEEDED"
)

// ErrorCode returns the machine-readable reason for a denial. Blacklisting
// wins over suspicion, which wins over an active penalty.
func (r Result) ErrorCode() string {
	switch {
	case r.Security.Blacklisted:
		return CodeIPBlacklisted
	case r.Security.IsSuspicious:
		return CodeSuspiciousActivity
	case r.Security.PenaltyMultiplier > 1:
		return CodeProgressiveLimit
	default:
		return CodeRateLimitExceeded
	}
}

// WindowEntry is the member recorded in a window bucket for every attempt
type WindowEntry struct {
	ID          string      `json:"id"`
	Timestamp   float64     `json:"timestamp"`
	IP          string      `json:"ip"`
	Endpoint    string      `json:"endpoint"`
	ThreatLevel ThreatLevel `json:"threat_level"`
}

// Clock returns the current time; tests substitute a fixed one
type Clock func() time.Time

func defaultSecurityInfo() SecurityInfo {
	return SecurityInfo{ThreatLevel: ThreatLow, PenaltyMultiplier: 1}
}

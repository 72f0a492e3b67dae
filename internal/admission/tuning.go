package admission

import "admission-gateway/internal/config"

// Tuning holds the knobs that differ between deployment environments
type Tuning struct {
	PenaltiesEnabled    bool
	BlacklistEnabled    bool
	SuspiciousThreshold int64
	BlacklistThreshold  int64
	// LimitMultiplier scales every policy limit
	LimitMultiplier float64
	// AllowPrivateIPs accepts any well-formed proxy header address
	AllowPrivateIPs bool
}

// ProductionTuning is the strict profile and the default
func ProductionTuning() Tuning {
	return Tuning{
		PenaltiesEnabled:    true,
		BlacklistEnabled:    true,
		SuspiciousThreshold: 50,
		BlacklistThreshold:  10,
		LimitMultiplier:     1,
	}
}

// TuningFor returns the profile for an environment name; unknown names get
// the production profile.
func TuningFor(environment string) Tuning {
	switch config.NormalizeEnvironment(environment) {
	case config.EnvDevelopment:
		return Tuning{
			SuspiciousThreshold: 500,
			BlacklistThreshold:  100,
			LimitMultiplier:     10,
			AllowPrivateIPs:     true,
		}
	case config.EnvStaging:
		return Tuning{
			PenaltiesEnabled:    true,
			BlacklistEnabled:    true,
			SuspiciousThreshold: 100,
			BlacklistThreshold:  20,
			LimitMultiplier:     2,
		}
	default:
		return ProductionTuning()
	}
}

package admission

import "time"

// ThreatAnalyzer classifies a client from its window reading. Implementations
// must be pure; the orchestrator fills in penalty and blacklist state.
type ThreatAnalyzer interface {
	Analyze(count int64, window time.Duration) SecurityInfo
}

// BurstAnalyzer flags clients whose window count exceeds a fixed threshold
type BurstAnalyzer struct {
	SuspiciousThreshold int64
}

// Analyze returns high for a suspicious burst, medium above one request per
// ten seconds of window, low otherwise.
func (a BurstAnalyzer) Analyze(count int64, window time.Duration) SecurityInfo {
	info := defaultSecurityInfo()

	switch {
	case count > a.SuspiciousThreshold:
		info.IsSuspicious = true
		info.ThreatLevel = ThreatHigh
	case float64(count) > window.Seconds()/10:
		info.ThreatLevel = ThreatMedium
	}
	return info
}

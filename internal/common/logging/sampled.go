package logging

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Sampled forwards Warn and Error to the wrapped logger at most at the given
// rate. Dropped entries are counted and reported on the next entry that
// passes as "suppressed". Debug and Info are never sampled.
type Sampled struct {
	next       Logger
	limiter    *rate.Limiter
	suppressed *atomic.Int64
}

// NewSampled wraps next so that warnings and errors pass at most every/burst
func NewSampled(next Logger, every rate.Limit, burst int) *Sampled {
	if burst < 1 {
		burst = 1
	}
	return &Sampled{
		next:       next,
		limiter:    rate.NewLimiter(every, burst),
		suppressed: new(atomic.Int64),
	}
}

func (s *Sampled) Debug(msg string, fields ...Field) { s.next.Debug(msg, fields...) }

func (s *Sampled) Info(msg string, fields ...Field) { s.next.Info(msg, fields...) }

func (s *Sampled) Warn(msg string, fields ...Field) {
	if fields, ok := s.admit(fields); ok {
		s.next.Warn(msg, fields...)
	}
}

func (s *Sampled) Error(msg string, err error, fields ...Field) {
	if fields, ok := s.admit(fields); ok {
		s.next.Error(msg, err, fields...)
	}
}

func (s *Sampled) WithFields(fields ...Field) Logger {
	return &Sampled{next: s.next.WithFields(fields...), limiter: s.limiter, suppressed: s.suppressed}
}

func (s *Sampled) WithContext(ctx context.Context) Logger {
	return &Sampled{next: s.next.WithContext(ctx), limiter: s.limiter, suppressed: s.suppressed}
}

// Suppressed returns the number of entries dropped since the last one that passed
func (s *Sampled) Suppressed() int64 {
	return s.suppressed.Load()
}

func (s *Sampled) admit(fields []Field) ([]Field, bool) {
	if !s.limiter.Allow() {
		s.suppressed.Add(1)
		return nil, false
	}
	if n := s.suppressed.Swap(0); n > 0 {
		fields = append(fields, Int64("suppressed", n))
	}
	return fields, true
}

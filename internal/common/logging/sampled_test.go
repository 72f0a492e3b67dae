package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestSampled(t *testing.T) {
	var buf bytes.Buffer
	base, err := NewZapLogger(LogConfig{Level: DebugLevel, Output: &buf})
	require.NoError(t, err)

	// a zero rate with a burst of one lets exactly one entry through
	sampled := NewSampled(base, rate.Limit(0), 1)

	for i := 0; i < 5; i++ {
		sampled.Warn("store unavailable, failing open")
	}
	sampled.Error("store unavailable", errors.New("timeout"))

	assert.Equal(t, 1, strings.Count(buf.String(), "store unavailable, failing open"))
	assert.NotContains(t, buf.String(), "timeout")
	assert.Equal(t, int64(5), sampled.Suppressed())

	sampled.Info("info is never sampled")
	sampled.Debug("debug is never sampled")
	assert.Contains(t, buf.String(), "info is never sampled")
	assert.Contains(t, buf.String(), "debug is never sampled")
}

func TestSampled_ReportsSuppressedCount(t *testing.T) {
	var buf bytes.Buffer
	base, err := NewZapLogger(LogConfig{Level: DebugLevel, Output: &buf})
	require.NoError(t, err)

	sampled := NewSampled(base, rate.Inf, 1)
	sampled.suppressed.Store(3)

	sampled.WithFields(String("component", "admission")).Warn("back again")

	assert.Contains(t, buf.String(), "suppressed")
	assert.Contains(t, buf.String(), "3")
	assert.Equal(t, int64(0), sampled.Suppressed())
}

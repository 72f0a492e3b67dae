package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"admission-gateway/internal/admission"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEnv(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_ADDRESS", mr.Addr())
	t.Setenv("SECRET_KEY", "identity-salt-0123456789")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("JWT_SECRET", "")
	return mr
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBlacklistLifecycle(t *testing.T) {
	mr := setupEnv(t)

	out, err := run(t, "blacklist", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no blacklisted addresses")

	out, err = run(t, "blacklist", "add", "203.0.113.9", "--reason", "abuse report", "--ttl", "2d")
	require.NoError(t, err)
	assert.Contains(t, out, "blacklisted 203.0.113.9 until")
	assert.Equal(t, 48*time.Hour, mr.TTL("blacklist:ip:203.0.113.9"))

	out, err = run(t, "blacklist", "show", "203.0.113.9")
	require.NoError(t, err)
	var entry admission.BlacklistEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entry))
	assert.Equal(t, "203.0.113.9", entry.IP)
	assert.Equal(t, "abuse report", entry.Reason)

	out, err = run(t, "blacklist", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "203.0.113.9")
	assert.Contains(t, out, "abuse report")
	assert.Contains(t, out, "2.0d")

	out, err = run(t, "blacklist", "list", "--json")
	require.NoError(t, err)
	var entries []admission.BlacklistEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	assert.Len(t, entries, 1)

	out, err = run(t, "blacklist", "remove", "203.0.113.9")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 203.0.113.9")
	assert.False(t, mr.Exists("blacklist:ip:203.0.113.9"))

	out, err = run(t, "blacklist", "remove", "203.0.113.9")
	require.NoError(t, err)
	assert.Contains(t, out, "was not blacklisted")

	_, err = run(t, "blacklist", "show", "203.0.113.9")
	assert.ErrorContains(t, err, "is not blacklisted")
}

func TestBlacklistAdd_Defaults(t *testing.T) {
	mr := setupEnv(t)

	_, err := run(t, "blacklist", "add", "::ffff:198.51.100.4")
	require.NoError(t, err)

	// mapped IPv4 is stored in its plain form
	assert.True(t, mr.Exists("blacklist:ip:198.51.100.4"))
	assert.Equal(t, admission.BlacklistTTL, mr.TTL("blacklist:ip:198.51.100.4"))
}

func TestBlacklistAdd_InvalidIP(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "blacklist", "add", "not-an-ip")
	assert.ErrorContains(t, err, "invalid IP address")

	_, err = run(t, "blacklist", "add", "203.0.113.9", "--ttl", "soon")
	assert.ErrorContains(t, err, "invalid duration")
}

func TestViolationsShow(t *testing.T) {
	mr := setupEnv(t)
	_, err := mr.Incr("violations:198.51.100.7", 2)
	require.NoError(t, err)
	mr.SetTTL("violations:198.51.100.7", 90*time.Minute)

	out, err := run(t, "violations", "show", "198.51.100.7")
	require.NoError(t, err)

	var report violationReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, int64(2), report.Violations)
	assert.Equal(t, 4.0, report.PenaltyMultiplier)
	assert.False(t, report.Blacklisted)
	assert.Equal(t, "1.5h", report.ExpiresIn)
}

func TestStoreUnreachable(t *testing.T) {
	mr := setupEnv(t)
	t.Setenv("STORE_CONNECT_ATTEMPTS", "1")
	mr.Close()

	_, err := run(t, "blacklist", "list")
	assert.Error(t, err)
}

func TestMissingSecretKey(t *testing.T) {
	setupEnv(t)
	t.Setenv("SECRET_KEY", "")

	_, err := run(t, "violations", "show", "198.51.100.7")
	assert.ErrorContains(t, err, "SECRET_KEY")
}

func TestTokenIssue(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "token", "issue", "--user-id", "user-1")
	assert.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("JWT_SECRET", "an-hs256-secret-of-at-least-32-characters")
	out, err := run(t, "token", "issue", "--user-id", "user-1", "--username", "alice")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "."), 3)
}

// syncBuffer is a bytes.Buffer safe for the concurrent writer in the events test
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestEvents(t *testing.T) {
	mr := setupEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out syncBuffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"events"})

	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(admission.SecurityEventsChannel)[admission.SecurityEventsChannel] == 1
	}, 2*time.Second, 10*time.Millisecond)

	mr.Publish(admission.SecurityEventsChannel, `{"type":"ip_blacklisted","ip":"203.0.113.1"}`)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"ip":"203.0.113.1"`)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("events did not stop after cancel")
	}
}

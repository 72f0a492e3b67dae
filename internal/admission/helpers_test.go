package admission

import (
	"bytes"
	"net"
	"sync"
	"testing"
	"time"

	"admission-gateway/internal/circuitbreaker"
	"admission-gateway/internal/common/logging"
	store "admission-gateway/internal/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupStore(t *testing.T) (*store.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := store.NewClient(&store.Config{
		Address:   mr.Addr(),
		OpTimeout: 500 * time.Millisecond,
		Breaker: circuitbreaker.Config{
			MaxFailures:           5,
			Timeout:               time.Minute,
			MaxConcurrentRequests: 1,
		},
	}, logging.GetGlobalLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

// setupStalledStore returns a client whose server answers PING and then
// swallows every other command without replying.
func setupStalledStore(t *testing.T, opTimeout time.Duration) *store.Client {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				buf := make([]byte, 4096)
				for {
					n, err := conn.Read(buf)
					if err != nil {
						return
					}
					if bytes.Contains(bytes.ToLower(buf[:n]), []byte("ping")) {
						_, _ = conn.Write([]byte("+PONG\r\n"))
					}
				}
			}()
		}
	}()

	client, err := store.NewClient(&store.Config{
		Address:   ln.Addr().String(),
		OpTimeout: opTimeout,
		Breaker: circuitbreaker.Config{
			MaxFailures:           100,
			Timeout:               time.Minute,
			MaxConcurrentRequests: 1,
		},
	}, logging.GetGlobalLogger())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
		_ = ln.Close()
	})
	return client
}

type harness struct {
	orch  *Orchestrator
	store *store.Client
	mr    *miniredis.Miniredis
	clock *fakeClock
}

func setupOrchestrator(t *testing.T, tuning *Tuning) *harness {
	t.Helper()

	client, mr := setupStore(t)
	clock := newFakeClock()
	orch := NewOrchestrator(client, Options{
		Tuning: tuning,
		Clock:  clock.Now,
	})
	return &harness{orch: orch, store: client, mr: mr, clock: clock}
}

func loginRequest(ip string) Request {
	return Request{
		Key:      BucketKey("/api/v1/auth/login", "client:test"),
		IP:       ip,
		Endpoint: "/api/v1/auth/login",
		Limit:    5,
		Window:   time.Minute,
	}
}

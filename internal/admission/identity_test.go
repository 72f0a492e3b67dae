package admission

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"

	"admission-gateway/internal/config"
	"admission-gateway/internal/requestctx"

	"github.com/stretchr/testify/assert"
)

const testSecret = "0123456789abcdef-rest-is-ignored"

func newRequest(remote string, headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/items", nil)
	r.RemoteAddr = remote
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestIdentify(t *testing.T) {
	id := NewIdentifier(testSecret, config.DefaultProxyHeaders, false)

	t.Run("deterministic", func(t *testing.T) {
		headers := map[string]string{"User-Agent": "curl/8.0", "Accept": "*/*"}
		a := id.Identify(newRequest("8.8.8.8:5000", headers))
		b := id.Identify(newRequest("8.8.8.8:6000", headers))

		assert.Equal(t, a, b)
		assert.True(t, strings.HasPrefix(a.Key, "client:"))
		assert.Len(t, a.Key, len("client:")+24)
		assert.Equal(t, "8.8.8.8", a.IP)
	})

	t.Run("every layer changes the key", func(t *testing.T) {
		base := id.Identify(newRequest("8.8.8.8:1", nil)).Key

		otherIP := id.Identify(newRequest("1.1.1.1:1", nil)).Key
		otherDevice := id.Identify(newRequest("8.8.8.8:1", map[string]string{"User-Agent": "x"})).Key
		withSession := id.Identify(newRequest("8.8.8.8:1", map[string]string{"Authorization": "Bearer abc"})).Key

		r := newRequest("8.8.8.8:1", nil)
		r = r.WithContext(requestctx.WithUserID(r.Context(), "42"))
		withUser := id.Identify(r).Key

		keys := map[string]bool{base: true, otherIP: true, otherDevice: true, withSession: true, withUser: true}
		assert.Len(t, keys, 5)
	})

	t.Run("salt is limited to sixteen bytes", func(t *testing.T) {
		other := NewIdentifier("0123456789abcdef-something-else", config.DefaultProxyHeaders, false)
		r := newRequest("8.8.8.8:1", nil)
		assert.Equal(t, id.Identify(r).Key, other.Identify(r).Key)

		different := NewIdentifier("fedcba9876543210", config.DefaultProxyHeaders, false)
		assert.NotEqual(t, id.Identify(r).Key, different.Identify(r).Key)
	})
}

func TestRealIP(t *testing.T) {
	prod := NewIdentifier(testSecret, config.DefaultProxyHeaders, false)
	dev := NewIdentifier(testSecret, config.DefaultProxyHeaders, true)

	tests := []struct {
		name    string
		id      *Identifier
		remote  string
		headers map[string]string
		want    string
	}{
		{"peer address", prod, "8.8.8.8:443", nil, "8.8.8.8"},
		{"peer without port", prod, "8.8.8.8", nil, "8.8.8.8"},
		{"no peer", prod, "", nil, "unknown"},
		{"forwarded for first hop", prod, "10.0.0.2:1", map[string]string{"X-Forwarded-For": "1.1.1.1, 10.0.0.1"}, "1.1.1.1"},
		{"cloudflare wins", prod, "10.0.0.2:1", map[string]string{"CF-Connecting-IP": "9.9.9.9", "X-Real-IP": "1.1.1.1"}, "9.9.9.9"},
		{"private header skipped in production", prod, "10.0.0.2:1", map[string]string{"X-Real-IP": "192.168.1.5", "X-Forwarded-For": "1.1.1.1"}, "1.1.1.1"},
		{"private header accepted in development", dev, "10.0.0.2:1", map[string]string{"X-Real-IP": "192.168.1.5"}, "192.168.1.5"},
		{"garbage header skipped", dev, "10.0.0.2:1", map[string]string{"X-Real-IP": "not-an-ip"}, "10.0.0.2"},
		{"documentation range is not global", prod, "10.0.0.2:1", map[string]string{"X-Real-IP": "203.0.113.9"}, "10.0.0.2"},
		{"rfc7239 form", prod, "10.0.0.2:1", map[string]string{"Forwarded": `for="[2606:4700::1111]";proto=https`}, "2606:4700::1111"},
		{"rfc7239 ipv6 with port", prod, "10.0.0.2:1", map[string]string{"Forwarded": `for="[2606:4700::1]:4711"`}, "2606:4700::1"},
		{"rfc7239 ipv4 with port", prod, "10.0.0.2:1", map[string]string{"Forwarded": "for=8.8.8.8:8080;proto=http"}, "8.8.8.8"},
		{"forwarded for with port", prod, "10.0.0.2:1", map[string]string{"X-Forwarded-For": "1.1.1.1:5555, 10.0.0.1"}, "1.1.1.1"},
		{"documentation range with port accepted in development", dev, "10.0.0.2:1", map[string]string{"Forwarded": `for="[2001:db8::1]:4711"`}, "2001:db8::1"},
		{"ipv6 peer", prod, "[2001:4860:4860::8888]:443", nil, "2001:4860:4860::8888"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.id.RealIP(newRequest(tt.remote, tt.headers)))
		})
	}
}

func TestRealIP_TrustedHeaderOrder(t *testing.T) {
	id := NewIdentifier(testSecret, []string{"X-Real-IP"}, false)
	r := newRequest("10.0.0.2:1", map[string]string{"CF-Connecting-IP": "9.9.9.9"})

	assert.Equal(t, "10.0.0.2", id.RealIP(r))
}

func TestIsGlobalIP(t *testing.T) {
	tests := map[string]bool{
		"8.8.8.8":         true,
		"::ffff:8.8.8.8":  true,
		"2606:4700::1111": true,
		"10.1.2.3":        false,
		"172.16.0.1":      false,
		"127.0.0.1":       false,
		"169.254.1.1":     false,
		"100.64.0.1":      false,
		"0.1.2.3":         false,
		"::1":             false,
		"fe80::1":         false,
		"fd00::1":         false,
		"2001:db8::1":     false,
		"255.255.255.255": false,
	}
	for ip, want := range tests {
		assert.Equal(t, want, IsGlobalIP(netip.MustParseAddr(ip)), ip)
	}
}

func TestFingerprint(t *testing.T) {
	h := http.Header{}
	h.Set("User-Agent", "Mozilla/5.0")
	h.Set("Accept-Language", "en-US")

	fp := Fingerprint(h)
	assert.Len(t, fp, 16)
	assert.Equal(t, fp, Fingerprint(h.Clone()))

	// only the first 200 characters of the user agent count
	long := http.Header{}
	long.Set("User-Agent", strings.Repeat("a", 200)+"tail-one")
	longer := http.Header{}
	longer.Set("User-Agent", strings.Repeat("a", 200)+"tail-two")
	assert.Equal(t, Fingerprint(long), Fingerprint(longer))

	// headers outside the subset are ignored
	h2 := h.Clone()
	h2.Set("X-Request-ID", "abc")
	assert.Equal(t, fp, Fingerprint(h2))

	h2.Set("DNT", "1")
	assert.NotEqual(t, fp, Fingerprint(h2))
}

func TestSessionID(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		assert.Empty(t, SessionID(newRequest("8.8.8.8:1", nil)))
	})

	t.Run("bearer token", func(t *testing.T) {
		r := newRequest("8.8.8.8:1", map[string]string{"Authorization": "Bearer token-1"})
		sid := SessionID(r)
		assert.Len(t, sid, 16)
		assert.NotEqual(t, sid, SessionID(newRequest("8.8.8.8:1", map[string]string{"Authorization": "Bearer token-2"})))
	})

	t.Run("access token cookie wins over header", func(t *testing.T) {
		withCookie := newRequest("8.8.8.8:1", map[string]string{"Authorization": "Bearer other"})
		withCookie.AddCookie(&http.Cookie{Name: "access_token", Value: "token-1"})

		headerOnly := newRequest("8.8.8.8:1", map[string]string{"Authorization": "Bearer token-1"})
		assert.Equal(t, SessionID(headerOnly), SessionID(withCookie))
	})

	t.Run("session cookie fallback", func(t *testing.T) {
		r := newRequest("8.8.8.8:1", nil)
		r.AddCookie(&http.Cookie{Name: "session_id", Value: "s-1"})
		assert.Len(t, SessionID(r), 16)
	})
}

package admission

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"net/netip"
	"sort"
	"strings"

	"admission-gateway/internal/requestctx"
)

const identityNamespace = "client:"

// nonGlobal lists special-purpose ranges that the netip predicates do not
// cover but that are still not routable on the public internet.
var nonGlobal = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("2001:db8::/32"),
}

// Identity is the derived key for one request together with the address
// that violations and blacklist entries are tracked against.
type Identity struct {
	Key string
	IP  string
}

// Identifier derives client identities from request metadata
type Identifier struct {
	salt            string
	proxyHeaders    []string
	allowPrivateIPs bool
}

// NewIdentifier creates an Identifier. Only the first 16 bytes of secret are
// used as salt. proxyHeaders are consulted in order.
func NewIdentifier(secret string, proxyHeaders []string, allowPrivateIPs bool) *Identifier {
	salt := secret
	if len(salt) > 16 {
		salt = salt[:16]
	}
	return &Identifier{
		salt:            salt,
		proxyHeaders:    proxyHeaders,
		allowPrivateIPs: allowPrivateIPs,
	}
}

// Identify layers the authenticated user, real IP, device fingerprint and
// session into one salted hash. Missing layers are left out.
func (id *Identifier) Identify(r *http.Request) Identity {
	layers := make([]string, 0, 4)

	if userID := requestctx.UserID(r.Context()); userID != "" {
		layers = append(layers, "user:"+userID)
	}

	ip := id.RealIP(r)
	layers = append(layers, "ip:"+ip)
	layers = append(layers, "device:"+Fingerprint(r.Header))

	if session := SessionID(r); session != "" {
		layers = append(layers, "session:"+session)
	}

	sum := sha256.Sum256([]byte(strings.Join(layers, "|") + ":" + id.salt))
	return Identity{
		Key: identityNamespace + hex.EncodeToString(sum[:])[:24],
		IP:  ip,
	}
}

// RealIP returns the first acceptable address found in the trusted proxy
// headers, falling back to the connection peer.
func (id *Identifier) RealIP(r *http.Request) string {
	for _, header := range id.proxyHeaders {
		value := r.Header.Get(header)
		if value == "" {
			continue
		}
		candidate := forwardedAddr(strings.TrimSpace(strings.Split(value, ",")[0]))
		if id.acceptable(candidate) {
			return candidate
		}
	}

	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (id *Identifier) acceptable(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	if id.allowPrivateIPs {
		return true
	}
	return IsGlobalIP(addr)
}

// IsGlobalIP reports whether addr is publicly routable
func IsGlobalIP(addr netip.Addr) bool {
	addr = addr.Unmap()
	if !addr.IsGlobalUnicast() || addr.IsPrivate() {
		return false
	}
	for _, p := range nonGlobal {
		if p.Contains(addr) {
			return false
		}
	}
	return true
}

// forwardedAddr strips the RFC 7239 "for=" form and any port down to the
// bare address
func forwardedAddr(value string) string {
	if i := strings.Index(strings.ToLower(value), "for="); i >= 0 {
		value = value[i+len("for="):]
		if j := strings.IndexByte(value, ';'); j >= 0 {
			value = value[:j]
		}
		value = strings.Trim(value, `"`)
	}
	if ap, err := netip.ParseAddrPort(value); err == nil {
		return ap.Addr().String()
	}
	return strings.Trim(value, "[]")
}

// Fingerprint hashes a fixed subset of browser headers into a stable device id
func Fingerprint(h http.Header) string {
	parts := map[string]string{
		"user_agent":                truncate(h.Get("User-Agent"), 200),
		"accept":                    truncate(h.Get("Accept"), 100),
		"accept_language":           truncate(h.Get("Accept-Language"), 50),
		"accept_encoding":           truncate(h.Get("Accept-Encoding"), 50),
		"dnt":                       h.Get("DNT"),
		"upgrade_insecure_requests": h.Get("Upgrade-Insecure-Requests"),
	}

	keys := make([]string, 0, len(parts))
	for k := range parts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+":"+parts[k])
	}

	sum := md5.Sum([]byte(strings.Join(pairs, "|")))
	return hex.EncodeToString(sum[:])[:16]
}

// SessionID hashes the access token cookie, the Authorization header or the
// session cookie, in that order. It returns "" when none is present.
func SessionID(r *http.Request) string {
	token := cookieValue(r, "access_token")
	if token == "" {
		token = strings.ReplaceAll(r.Header.Get("Authorization"), "Bearer ", "")
	}
	if token == "" {
		token = cookieValue(r, "session_id")
	}
	if token == "" {
		return ""
	}

	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:16]
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

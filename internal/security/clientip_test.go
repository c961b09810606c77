package security

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTrustedProxies(t *testing.T) {
	tp, err := ParseTrustedProxies(DefaultTrustedProxies)
	require.NoError(t, err)
	require.Len(t, tp, len(DefaultTrustedProxies))

	tp, err = ParseTrustedProxies([]string{" 10.0.0.0/8 ", ""})
	require.NoError(t, err)
	require.Len(t, tp, 1)

	_, err = ParseTrustedProxies([]string{"not-a-cidr"})
	require.Error(t, err)
}

func TestClientIP(t *testing.T) {
	tp, err := ParseTrustedProxies([]string{"127.0.0.0/8"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		remote string
		xff    string
		xri    string
		want   string
	}{
		{"direct", "203.0.113.5:4000", "", "", "203.0.113.5"},
		{"untrusted peer headers ignored", "203.0.113.5:4000", "198.51.100.1", "", "203.0.113.5"},
		{"trusted peer xff", "127.0.0.1:4000", "198.51.100.1", "", "198.51.100.1"},
		{"spoofed leftmost entry ignored", "127.0.0.1:4000", "6.6.6.6, 203.0.113.9", "", "203.0.113.9"},
		{"trusted hops skipped from the right", "127.0.0.1:4000", "6.6.6.6, 203.0.113.9, 127.0.0.2", "", "203.0.113.9"},
		{"all hops trusted", "127.0.0.1:4000", "127.0.0.3, 127.0.0.2", "", "127.0.0.3"},
		{"garbage hop stops the walk", "127.0.0.1:4000", "203.0.113.9, garbage", "", "127.0.0.1"},
		{"xff wins over x-real-ip", "127.0.0.1:4000", "203.0.113.9", "198.51.100.2", "203.0.113.9"},
		{"trusted peer x-real-ip", "127.0.0.1:4000", "", "198.51.100.2", "198.51.100.2"},
		{"trusted peer bad xff", "127.0.0.1:4000", "garbage", "", "127.0.0.1"},
		{"ipv6", "[2001:db8::1]:4000", "", "", "2001:db8::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-Ip", tt.xri)
			}
			assert.Equal(t, tt.want, tp.ClientIP(r))
		})
	}
}

func TestClientIPSpoofedHopsShareOneAddress(t *testing.T) {
	tp, err := ParseTrustedProxies(DefaultTrustedProxies)
	require.NoError(t, err)
	limiter := NewConnectionLimiter(100, 2)

	admitted := 0
	for i := 0; i < 10; i++ {
		r := httptest.NewRequest("GET", "/ws", nil)
		r.RemoteAddr = "127.0.0.1:4000"
		r.Header.Set("X-Forwarded-For", fmt.Sprintf("6.6.6.%d, 203.0.113.9", i))
		if _, err := limiter.TryConnect(tp.ClientIP(r), fmt.Sprintf("s%d", i)); err == nil {
			admitted++
		}
	}
	assert.Equal(t, 2, admitted)
	assert.Equal(t, 2, limiter.ActiveFrom("203.0.113.9"))
}

func TestDefaultTrustedProxiesAreLoopbackOnly(t *testing.T) {
	tp, err := ParseTrustedProxies(DefaultTrustedProxies)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/ws", nil)
	r.RemoteAddr = "192.168.1.20:4000"
	r.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "192.168.1.20", tp.ClientIP(r))
}

func TestAddrHost(t *testing.T) {
	assert.Equal(t, "127.0.0.1", AddrHost(&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9}))
	assert.Equal(t, "::1", AddrHost(&net.TCPAddr{IP: net.ParseIP("::1"), Port: 9}))
	assert.Equal(t, "", AddrHost(nil))
	assert.Equal(t, "pipe", HostOf("pipe"))
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

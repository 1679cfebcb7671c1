package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"exact match", []string{"http://example.com"}, "http://example.com", true},
		{"upper case host", []string{"http://example.com"}, "http://EXAMPLE.COM", true},
		{"upper case scheme", []string{"http://example.com"}, "HTTP://example.com", true},
		{"configured upper case", []string{"HTTP://Example.Com"}, "http://example.com", true},
		{"different port", []string{"http://example.com"}, "http://example.com:8081", false},
		{"different scheme", []string{"http://example.com"}, "https://example.com", false},
		{"missing origin", []string{"http://example.com"}, "", false},
		{"not a url", []string{"http://example.com"}, "not-a-url", false},
		{"missing host", []string{"http://example.com"}, "http://", false},
		{"wildcard", []string{"*"}, "http://anything.example", true},
		{"wildcard still needs origin", []string{"*"}, "", false},
		{"invalid entries ignored", []string{"::bad::", " ", "http://ok.example"}, "http://ok.example", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newOriginPolicy(tt.allowed, testLogger())
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			require.Equal(t, tt.want, p.checkOrigin(r))
		})
	}
}

func TestOriginPolicy_CORSOrigins(t *testing.T) {
	require.Equal(t, []string{"*"}, newOriginPolicy([]string{"*", "http://a.example"}, testLogger()).corsOrigins())
	require.ElementsMatch(t,
		[]string{"http://a.example", "https://b.example"},
		newOriginPolicy([]string{"http://A.example", "https://b.example/"}, testLogger()).corsOrigins())
}

func TestIsExpectedCloseError(t *testing.T) {
	require.True(t, isExpectedCloseError(nil))
	require.True(t, isExpectedCloseError(&testError{"read tcp: use of closed network connection"}))
	require.True(t, isExpectedCloseError(&testError{"websocket: close sent"}))
	require.True(t, isExpectedCloseError(&testError{"write: broken pipe"}))
	require.False(t, isExpectedCloseError(&testError{"i/o timeout"}))
}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

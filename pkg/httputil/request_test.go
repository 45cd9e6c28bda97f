package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePathString(t *testing.T) {
	r := httptest.NewRequest("GET", "/sso/callback/oidc", nil)
	r = mux.SetURLVars(r, map[string]string{"provider": "oidc"})

	val, err := ParsePathString(r, "provider")
	require.NoError(t, err)
	assert.Equal(t, "oidc", val)

	_, err = ParsePathString(r, "missing")
	assert.Error(t, err)
}

func TestParseQueryString(t *testing.T) {
	r := httptest.NewRequest("GET", "/login?redirectUrl=https%3A%2F%2Fclient.example.com", nil)

	assert.Equal(t, "https://client.example.com", ParseQueryString(r, "redirectUrl", ""))
	assert.Equal(t, "fallback", ParseQueryString(r, "absent", "fallback"))
}

func TestClientIP_ForwardedFor(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	r.RemoteAddr = "10.0.0.2:4242"

	assert.Equal(t, "203.0.113.9", ClientIP(r))
}

func TestClientIP_RealIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Real-IP", "203.0.113.10")
	r.RemoteAddr = "10.0.0.2:4242"

	assert.Equal(t, "203.0.113.10", ClientIP(r))
}

func TestClientIP_RemoteAddr(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.11:51234"

	assert.Equal(t, "203.0.113.11", ClientIP(r))
}

func TestChain_Order(t *testing.T) {
	var order []string

	tag := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Chain(tag("outer"), tag("inner"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/version", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"version":"1.2.3","protocol_version":1}`))
	}))
	defer srv.Close()

	a := NewHTTPServerAdapter(HTTPClientConfig{BaseURL: srv.URL, Token: "test-token"})
	info, err := a.ServerInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, 1, info.ProtocolVersion)

	assert.NoError(t, a.CheckCompatibility(context.Background()))
}

func TestCheckCompatibilityMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"version":"9.0.0","protocol_version":99}`))
	}))
	defer srv.Close()

	a := NewHTTPServerAdapter(HTTPClientConfig{BaseURL: srv.URL})
	err := a.CheckCompatibility(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIncompatibleServer)
}

func TestServerInfoHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := NewHTTPServerAdapter(HTTPClientConfig{BaseURL: srv.URL})
	_, err := a.ServerInfo(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

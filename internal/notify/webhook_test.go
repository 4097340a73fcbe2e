package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhook_Send(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL)
	err := w.Send(context.Background(), map[string]any{"date": "2026-02-01", "succeeded": 3})
	require.NoError(t, err)
	assert.Equal(t, "2026-02-01", got["date"])
}

func TestWebhook_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL).Send(context.Background(), map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhook_Unconfigured(t *testing.T) {
	assert.NoError(t, NewWebhook("").Send(context.Background(), map[string]string{"x": "y"}))
}

package exhandlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookHandler_Handle_Success(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := NewWebhookHandler(nil)
	err := h.Handle(context.Background(), WebhookRequest{
		Method:  http.MethodPost,
		URL:     srv.URL,
		Headers: map[string]string{"X-Signature": "abc123"},
		Body:    []byte(`{"ok":true}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "abc123", gotHeader)
}

func TestWebhookHandler_Handle_ServerErrorReturnsErr(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	h := NewWebhookHandler(nil)
	err := h.Handle(context.Background(), WebhookRequest{URL: srv.URL})
	assert.Error(t, err)
}

func TestWebhookHandler_Handle_DefaultsMethodToPost(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := NewWebhookHandler(nil)
	require.NoError(t, h.Handle(context.Background(), WebhookRequest{URL: srv.URL}))
	assert.Equal(t, http.MethodPost, gotMethod)
}

func TestWebhookHandler_Timeout_DefaultsFromClient(t *testing.T) {
	h := NewWebhookHandler(nil)
	assert.Greater(t, h.Timeout().Seconds(), 0.0)
}

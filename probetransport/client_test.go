package probetransport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetStreamsSuccessfulResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	client := New(DefaultConfig())
	result, err := client.Get(context.Background(), srv.URL, nil, false)
	require.NoError(t, err)
	require.NotNil(t, result.Body)
	defer result.Body.Close()

	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.GreaterOrEqual(t, result.TTFB, time.Duration(0))
}

func TestGetNon2xxCapturesSanitizedPreview(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom\x00\x01binary"))
	}))
	defer srv.Close()

	client := New(DefaultConfig())
	result, err := client.Get(context.Background(), srv.URL, nil, false)
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, http.StatusInternalServerError, result.StatusCode)
	assert.Nil(t, result.Body)
	assert.Contains(t, result.ResponsePreview, "boom")
	assert.NotContains(t, result.ResponsePreview, "\x00")
}

func TestSanitizePreviewStripsControlBytes(t *testing.T) {
	out := sanitizePreview([]byte{'a', 0x00, 'b', 0x7f, 'c'})
	assert.Equal(t, "a.b.c", out)
}

package retrieval

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/spprobe/probetransport"
)

func TestDirectSPStrategyCanHandle(t *testing.T) {
	s := NewDirectSPStrategy(probetransport.New(probetransport.DefaultConfig()))

	assert.True(t, s.CanHandle(StrategyContext{ServiceURL: "http://sp.example", PieceCID: "baga123"}))
	assert.False(t, s.CanHandle(StrategyContext{ServiceURL: "http://sp.example"}))
	assert.False(t, s.CanHandle(StrategyContext{PieceCID: "baga123"}))
}

func TestDirectSPStrategyConstructURL(t *testing.T) {
	s := NewDirectSPStrategy(probetransport.New(probetransport.DefaultConfig()))
	url := s.ConstructURL(StrategyContext{ServiceURL: "http://sp.example", PieceCID: "baga123"})
	assert.Equal(t, "http://sp.example/piece/baga123", url)
}

func TestDirectSPStrategyValidateSizeMatch(t *testing.T) {
	payload := []byte("hello world")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	client := probetransport.New(probetransport.DefaultConfig())
	s := NewDirectSPStrategy(client)
	sctx := StrategyContext{ServiceURL: srv.URL, PieceCID: "baga123", FileSize: int64(len(payload))}

	result, err := client.Get(context.Background(), s.ConstructURL(sctx), nil, false)
	require.NoError(t, err)
	defer result.Body.Close()

	outcome, err := s.Validate(context.Background(), result.Body, sctx)
	require.NoError(t, err)
	assert.True(t, outcome.IsValid)
	assert.Equal(t, int64(len(payload)), outcome.BytesRead)
}

func TestDirectSPStrategyValidateSizeMismatch(t *testing.T) {
	payload := []byte("short")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	client := probetransport.New(probetransport.DefaultConfig())
	s := NewDirectSPStrategy(client)
	sctx := StrategyContext{ServiceURL: srv.URL, PieceCID: "baga123", FileSize: 9999}

	result, err := client.Get(context.Background(), s.ConstructURL(sctx), nil, false)
	require.NoError(t, err)
	defer result.Body.Close()

	outcome, err := s.Validate(context.Background(), result.Body, sctx)
	require.NoError(t, err)
	assert.False(t, outcome.IsValid)
	assert.Equal(t, "size-mismatch", outcome.Comparison)
}

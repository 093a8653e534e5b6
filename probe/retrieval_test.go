package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/spprobe/domain"
	"github.com/evalgo/spprobe/probetransport"
	"github.com/evalgo/spprobe/retrieval"
)

func TestRetrievalPipelineRunProducesOneRowPerStrategy(t *testing.T) {
	payload := []byte("piece bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	client := probetransport.New(probetransport.DefaultConfig())
	registry := retrieval.NewRegistry(retrieval.NewDirectSPStrategy(client))
	pipeline := NewRetrievalPipeline(client, registry, 6)

	deal := &domain.Deal{
		ID:       uuid.New(),
		PieceCID: "baga-piece",
		FileSize: int64(len(payload)),
	}

	results := pipeline.Run(context.Background(), 3600, deal, srv.URL)
	require.Len(t, results, 1)
	assert.Equal(t, domain.RetrievalSuccess, results[0].Status)
	assert.Equal(t, deal.ID, results[0].DealID)
}

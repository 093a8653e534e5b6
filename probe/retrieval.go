package probe

import (
	"context"

	"github.com/evalgo/spprobe/domain"
	"github.com/evalgo/spprobe/probetransport"
	"github.com/evalgo/spprobe/retrieval"
)

// RetrievalPipeline runs the retrieval half of C8: it asks the strategy
// registry which strategies apply to a completed Deal and executes them
// all, producing one Retrieval row per applicable strategy.
type RetrievalPipeline struct {
	client                    *probetransport.Client
	registry                  *retrieval.Registry
	ipfsBlockFetchConcurrency int
}

// NewRetrievalPipeline builds a RetrievalPipeline.
func NewRetrievalPipeline(client *probetransport.Client, registry *retrieval.Registry, ipfsBlockFetchConcurrency int) *RetrievalPipeline {
	return &RetrievalPipeline{client: client, registry: registry, ipfsBlockFetchConcurrency: ipfsBlockFetchConcurrency}
}

// Run executes every applicable retrieval strategy against deal, whose
// pieceCid/rootCid must already be populated (DEAL_CREATED), fetching
// from serviceURL.
func (p *RetrievalPipeline) Run(ctx context.Context, retrievalIntervalSeconds int, deal *domain.Deal, serviceURL string) []*domain.Retrieval {
	ctx, cancel := context.WithTimeout(ctx, deadlineFor(retrievalIntervalSeconds))
	defer cancel()

	sctx := retrieval.StrategyContext{
		ServiceURL:                serviceURL,
		PieceCID:                  deal.PieceCID,
		RootCID:                   deal.RootCID,
		FileSize:                  deal.FileSize,
		IPFSBlockFetchConcurrency: p.ipfsBlockFetchConcurrency,
	}
	return retrieval.Run(ctx, p.client, p.registry, sctx, deal.ID)
}

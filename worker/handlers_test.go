package worker

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/spprobe/chaingw"
	"github.com/evalgo/spprobe/config"
	"github.com/evalgo/spprobe/domain"
	"github.com/evalgo/spprobe/probe"
	"github.com/evalgo/spprobe/probetransport"
	"github.com/evalgo/spprobe/retrieval"
	"github.com/evalgo/spprobe/workqueue"
)

type fakeProviderLookup struct {
	sp  domain.StorageProvider
	err error
}

func (f fakeProviderLookup) GetByAddress(ctx context.Context, address string) (domain.StorageProvider, error) {
	return f.sp, f.err
}

type fakeDealFinder struct {
	deal *domain.Deal
	err  error
}

func (f fakeDealFinder) LatestCreatedDeal(ctx context.Context, spAddress string) (*domain.Deal, error) {
	return f.deal, f.err
}

type fakeRecorder struct {
	pendingCalls     int
	persistedDeals   []*domain.Deal
	persistedResults [][]*domain.Retrieval
	rollupCalls      int
	persistErr       error
}

func (r *fakeRecorder) RecordPending(checkType string, providerID int64, approved bool) {
	r.pendingCalls++
}

func (r *fakeRecorder) PersistDeal(ctx context.Context, deal *domain.Deal, providerID int64, approved bool) error {
	if r.persistErr != nil {
		return r.persistErr
	}
	r.persistedDeals = append(r.persistedDeals, deal)
	return nil
}

func (r *fakeRecorder) PersistRetrievals(ctx context.Context, retrievals []*domain.Retrieval, providerID int64, approved bool) error {
	if r.persistErr != nil {
		return r.persistErr
	}
	r.persistedResults = append(r.persistedResults, retrievals)
	return nil
}

func (r *fakeRecorder) RefreshRollups(ctx context.Context) error {
	r.rollupCalls++
	return nil
}

type fakeChainClient struct {
	confirmed bool
	receipt   chaingw.UploadReceipt
}

func (f *fakeChainClient) GetBlockNumber(ctx context.Context) (int64, error) { return 0, nil }
func (f *fakeChainClient) GetProviderCount(ctx context.Context) (int64, error) {
	return 0, nil
}
func (f *fakeChainClient) GetProvider(ctx context.Context, providerID int64) (domain.StorageProvider, error) {
	return domain.StorageProvider{}, nil
}
func (f *fakeChainClient) GetAllActiveProviders(ctx context.Context) ([]domain.StorageProvider, error) {
	return nil, nil
}
func (f *fakeChainClient) AccountInfo(ctx context.Context, wallet string) (chaingw.AccountInfo, error) {
	return chaingw.AccountInfo{}, nil
}
func (f *fakeChainClient) Deposit(ctx context.Context, wallet string, amount *big.Int) error {
	return nil
}
func (f *fakeChainClient) ApproveService(ctx context.Context, wallet string, rateAllowance, lockupAllowance *big.Int) error {
	return nil
}
func (f *fakeChainClient) UploadPiece(ctx context.Context, spAddress string, data []byte) (chaingw.UploadReceipt, error) {
	return f.receipt, nil
}
func (f *fakeChainClient) AnchorPiece(ctx context.Context, spAddress, pieceCID string) (bool, error) {
	return f.confirmed, nil
}

func workItem(t *testing.T, family, sp string) workqueue.WorkItem {
	t.Helper()
	payload, err := json.Marshal(jobPayload{Family: family, SP: sp})
	require.NoError(t, err)
	return workqueue.WorkItem{ID: uuid.New(), Payload: payload}
}

func TestDealHandlerPersistsDealOnSuccess(t *testing.T) {
	chain := &fakeChainClient{confirmed: true, receipt: chaingw.UploadReceipt{PieceCID: "baga-piece", RootCID: "bafy-root"}}
	rec := &fakeRecorder{}
	h := &DealHandler{
		Providers: fakeProviderLookup{sp: domain.StorageProvider{Address: "0xsp1", ProviderID: 1, Approved: true}},
		Pipeline:  probe.NewUploadPipeline(chain, []int64{1024}),
		Recorder:  rec,
		Cfg:       &config.Config{DealIntervalSeconds: 3600, WalletAddress: "0xwallet"},
	}

	err := h.Handle(context.Background(), workItem(t, "deal", "0xsp1"))
	require.NoError(t, err)
	require.Len(t, rec.persistedDeals, 1)
	assert.Equal(t, domain.DealCreated, rec.persistedDeals[0].Status)
	assert.Equal(t, 1, rec.pendingCalls)
}

func TestDealHandlerReturnsErrorWhenDealFails(t *testing.T) {
	chain := &fakeChainClient{confirmed: false}
	rec := &fakeRecorder{}
	h := &DealHandler{
		Providers: fakeProviderLookup{sp: domain.StorageProvider{Address: "0xsp1", ProviderID: 1}},
		Pipeline:  probe.NewUploadPipeline(chain, []int64{1024}),
		Recorder:  rec,
		Cfg:       &config.Config{DealIntervalSeconds: 3600, WalletAddress: "0xwallet"},
	}

	err := h.Handle(context.Background(), workItem(t, "deal", "0xsp1"))
	assert.Error(t, err)
	require.Len(t, rec.persistedDeals, 1)
	assert.Equal(t, domain.DealFailed, rec.persistedDeals[0].Status)
}

func TestRetrievalHandlerPropagatesDealLookupError(t *testing.T) {
	rec := &fakeRecorder{}
	h := &RetrievalHandler{
		Providers: fakeProviderLookup{sp: domain.StorageProvider{Address: "0xsp1", ProviderID: 1}},
		Deals:     fakeDealFinder{err: assertErr("no rows")},
		Recorder:  rec,
		Cfg:       &config.Config{RetrievalIntervalSeconds: 3600},
	}

	err := h.Handle(context.Background(), workItem(t, "retrieval", "0xsp1"))
	// A lookup error that is not pgx.ErrNoRows propagates.
	assert.Error(t, err)
}

func TestRetrievalHandlerPersistsResultsOnSuccess(t *testing.T) {
	payload := []byte("piece bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	client := probetransport.New(probetransport.DefaultConfig())
	registry := retrieval.NewRegistry(retrieval.NewDirectSPStrategy(client))
	rec := &fakeRecorder{}

	deal := &domain.Deal{ID: uuid.New(), PieceCID: "baga-piece", FileSize: int64(len(payload))}
	h := &RetrievalHandler{
		Providers: fakeProviderLookup{sp: domain.StorageProvider{Address: "0xsp1", ProviderID: 1, ServiceURL: srv.URL}},
		Deals:     fakeDealFinder{deal: deal},
		Pipeline:  probe.NewRetrievalPipeline(client, registry, 6),
		Recorder:  rec,
		Cfg:       &config.Config{RetrievalIntervalSeconds: 3600},
	}

	err := h.Handle(context.Background(), workItem(t, "retrieval", "0xsp1"))
	require.NoError(t, err)
	require.Len(t, rec.persistedResults, 1)
	assert.Equal(t, domain.RetrievalSuccess, rec.persistedResults[0][0].Status)
}

func TestRollupHandlerRefreshesRollups(t *testing.T) {
	rec := &fakeRecorder{}
	h := &RollupHandler{Recorder: rec}
	require.NoError(t, h.Handle(context.Background(), workItem(t, "metricsRollup", "0xsp1")))
	assert.Equal(t, 1, rec.rollupCalls)
}

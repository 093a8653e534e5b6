// Package chaingw is the chain gateway (C1): wallet/ledger operations, SP
// registry sync, and balance/allowance upkeep against the decentralized
// storage network's on-chain SDK. The SDK itself is a named external
// collaborator (per the module's scope) — chaingw only defines the
// interface this module depends on and an implementation that wraps an
// injected low-level RPC client, so tests substitute a fake without
// touching a real chain.
package chaingw

import (
	"context"
	"math/big"

	"github.com/evalgo/spprobe/domain"
)

// AccountInfo is the wallet state the allowance upkeep logic reasons
// about.
type AccountInfo struct {
	FundsAvailable   *big.Int
	RateAllowance    *big.Int
	LockupAllowance  *big.Int
	RateUsed         *big.Int
	LockupUsed       *big.Int
}

// UploadReceipt is returned by UploadPiece once the SP has acknowledged
// receipt of the uploaded bytes (before on-chain anchoring).
type UploadReceipt struct {
	PieceCID string
	RootCID  string
}

// Client is everything the rest of the module needs from the chain/SDK
// layer. It is deliberately narrow: every spec.md §6 "Chain / SDK"
// operation, nothing more.
type Client interface {
	GetBlockNumber(ctx context.Context) (int64, error)
	GetProviderCount(ctx context.Context) (int64, error)
	GetProvider(ctx context.Context, providerID int64) (domain.StorageProvider, error)
	GetAllActiveProviders(ctx context.Context) ([]domain.StorageProvider, error)

	AccountInfo(ctx context.Context, wallet string) (AccountInfo, error)
	Deposit(ctx context.Context, wallet string, amount *big.Int) error
	ApproveService(ctx context.Context, wallet string, rateAllowance, lockupAllowance *big.Int) error

	UploadPiece(ctx context.Context, spAddress string, data []byte) (UploadReceipt, error)
	AnchorPiece(ctx context.Context, spAddress, pieceCID string) (confirmed bool, err error)
}

// maxBatch bounds every paginated read against the registry, per spec.md
// §4.6/§6 ("in batches ≤ 50").
const maxBatch = 50

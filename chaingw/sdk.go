package chaingw

import (
	"context"
	"fmt"
	"math/big"
)

// RawClient is the opaque low-level RPC surface the real chain SDK
// provides; it is intentionally unopinionated (byte/JSON in, byte/JSON
// out) so SDK can be built against whatever concrete SDK package the
// deployment wires in without this module depending on it directly.
type RawClient interface {
	Call(ctx context.Context, method string, params, result interface{}) error
	SendTransaction(ctx context.Context, method string, params interface{}) (txHash string, err error)
}

// SDK implements Client on top of an injected RawClient.
type SDK struct {
	raw RawClient
}

// NewSDK wraps raw as a Client.
func NewSDK(raw RawClient) *SDK {
	return &SDK{raw: raw}
}

func (s *SDK) GetBlockNumber(ctx context.Context) (int64, error) {
	var result int64
	if err := s.raw.Call(ctx, "eth_blockNumber", nil, &result); err != nil {
		return 0, fmt.Errorf("chaingw: get block number: %w", err)
	}
	return result, nil
}

func (s *SDK) GetProviderCount(ctx context.Context) (int64, error) {
	var result int64
	if err := s.raw.Call(ctx, "registry_providerCount", nil, &result); err != nil {
		return 0, fmt.Errorf("chaingw: get provider count: %w", err)
	}
	return result, nil
}

func (s *SDK) AccountInfo(ctx context.Context, wallet string) (AccountInfo, error) {
	var info AccountInfo
	if err := s.raw.Call(ctx, "payments_accountInfo", wallet, &info); err != nil {
		return AccountInfo{}, fmt.Errorf("chaingw: account info %s: %w", wallet, err)
	}
	return info, nil
}

func (s *SDK) Deposit(ctx context.Context, wallet string, amount *big.Int) error {
	_, err := s.raw.SendTransaction(ctx, "payments_deposit", map[string]interface{}{
		"wallet": wallet, "amount": amount.String(),
	})
	if err != nil {
		return fmt.Errorf("chaingw: deposit for %s: %w", wallet, err)
	}
	return nil
}

func (s *SDK) ApproveService(ctx context.Context, wallet string, rateAllowance, lockupAllowance *big.Int) error {
	_, err := s.raw.SendTransaction(ctx, "payments_approveService", map[string]interface{}{
		"wallet":          wallet,
		"rateAllowance":   rateAllowance.String(),
		"lockupAllowance": lockupAllowance.String(),
	})
	if err != nil {
		return fmt.Errorf("chaingw: approve service for %s: %w", wallet, err)
	}
	return nil
}

func (s *SDK) UploadPiece(ctx context.Context, spAddress string, data []byte) (UploadReceipt, error) {
	var receipt UploadReceipt
	if err := s.raw.Call(ctx, "piece_upload", map[string]interface{}{
		"sp": spAddress, "data": data,
	}, &receipt); err != nil {
		return UploadReceipt{}, fmt.Errorf("chaingw: upload piece to %s: %w", spAddress, err)
	}
	return receipt, nil
}

func (s *SDK) AnchorPiece(ctx context.Context, spAddress, pieceCID string) (bool, error) {
	var confirmed bool
	if err := s.raw.Call(ctx, "piece_anchorStatus", map[string]interface{}{
		"sp": spAddress, "pieceCid": pieceCID,
	}, &confirmed); err != nil {
		return false, fmt.Errorf("chaingw: anchor piece %s/%s: %w", spAddress, pieceCID, err)
	}
	return confirmed, nil
}

package chaingw

import (
	"context"
	"fmt"
	"math/big"
)

// allowanceHorizonSeconds is the fixed window (6 months, in seconds) over which
// rate/lockup allowance is sized, per spec.md §4.6.
const allowanceHorizonSeconds = 6 * 30 * 24 * 60 * 60

// AllowanceParams carries PerProviderRateUnits and PerProviderLockupUnits,
// the assumed per-provider resource units the allowance calculation scales by N
// providers; these come from the storage network's own pricing model and
// are passed in rather than hard-coded so deployments can tune them.
type AllowanceParams struct {
	PerProviderRateUnits   *big.Int
	PerProviderLockupUnits *big.Int
}

// Wallet wraps a Client to provide the allowance-upkeep routine the
// chain gateway runs at startup.
type Wallet struct {
	client Client
	params AllowanceParams
}

// NewWallet builds a Wallet.
func NewWallet(client Client, params AllowanceParams) *Wallet {
	return &Wallet{client: client, params: params}
}

// EnsureAllowances computes the {rateAllowance, lockupAllowance} needed
// for numProviders over the fixed horizon and, if the wallet's current
// allowances or available funds are deficient, deposits the shortfall
// and/or re-approves. Failures here are fatal at startup (spec.md §7).
func (w *Wallet) EnsureAllowances(ctx context.Context, wallet string, numProviders int) error {
	info, err := w.client.AccountInfo(ctx, wallet)
	if err != nil {
		return fmt.Errorf("chaingw: ensure allowances: account info: %w", err)
	}

	neededRate := new(big.Int).Mul(w.params.PerProviderRateUnits, big.NewInt(int64(numProviders)))
	neededLockup := new(big.Int).Mul(w.params.PerProviderLockupUnits, big.NewInt(int64(numProviders*allowanceHorizonSeconds)))

	if info.FundsAvailable != nil && info.FundsAvailable.Cmp(neededLockup) < 0 {
		shortfall := new(big.Int).Sub(neededLockup, info.FundsAvailable)
		if err := w.client.Deposit(ctx, wallet, shortfall); err != nil {
			return fmt.Errorf("chaingw: ensure allowances: deposit shortfall: %w", err)
		}
	}

	if info.RateAllowance == nil || info.RateAllowance.Cmp(neededRate) < 0 ||
		info.LockupAllowance == nil || info.LockupAllowance.Cmp(neededLockup) < 0 {
		if err := w.client.ApproveService(ctx, wallet, neededRate, neededLockup); err != nil {
			return fmt.Errorf("chaingw: ensure allowances: approve service: %w", err)
		}
	}

	return nil
}

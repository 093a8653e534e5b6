// Package domain holds the entities shared across the probe harness:
// storage providers, deals, retrievals, job schedule state and work items.
// Types here carry no persistence or transport logic; they are the value
// types every other package constructs, reads and writes.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// DealStatus is the lifecycle state of one upload probe. Status only ever
// advances forward; CanTransitionTo enforces this the same way a workflow
// phase manager enforces its own phase graph.
type DealStatus string

const (
	DealPending         DealStatus = "PENDING"
	DealIngested        DealStatus = "INGESTED"
	DealChainConfirmed  DealStatus = "CHAIN_CONFIRMED"
	DealPieceAdded      DealStatus = "PIECE_ADDED"
	DealCreated         DealStatus = "DEAL_CREATED"
	DealFailed          DealStatus = "FAILED"
)

// DealTransitions is the forward-only adjacency of DealStatus. FAILED is
// reachable from every non-terminal state; DEAL_CREATED and FAILED are
// terminal (no outgoing edges).
var DealTransitions = map[DealStatus][]DealStatus{
	DealPending:        {DealIngested, DealFailed},
	DealIngested:       {DealChainConfirmed, DealFailed},
	DealChainConfirmed: {DealPieceAdded, DealFailed},
	DealPieceAdded:     {DealCreated, DealFailed},
	DealCreated:        {},
	DealFailed:         {},
}

// IsTerminal reports whether no further transition is possible.
func (s DealStatus) IsTerminal() bool {
	return len(DealTransitions[s]) == 0
}

// CanTransitionTo reports whether moving from s to target is a valid forward
// edge in DealTransitions.
func (s DealStatus) CanTransitionTo(target DealStatus) bool {
	for _, next := range DealTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Deal is one upload probe run against a single storage provider.
type Deal struct {
	ID                  uuid.UUID
	SPAddress           string
	WalletAddress       string
	PieceCID            string
	RootCID             string
	FileSize            int64
	FileName            string
	Status              DealStatus
	IngestLatencyMs     int64
	ChainLatencyMs      int64
	DealLatencyMs       int64
	IngestThroughputBps float64
	ServiceTypes        []string
	Metadata            map[string]string
	ErrorMessage        string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewDeal returns a Deal in its initial PENDING state, stamped with a fresh
// id and timestamps.
func NewDeal(spAddress, walletAddress, fileName string, fileSize int64) *Deal {
	now := time.Now().UTC()
	return &Deal{
		ID:            uuid.New(),
		SPAddress:     spAddress,
		WalletAddress: walletAddress,
		FileName:      fileName,
		FileSize:      fileSize,
		Status:        DealPending,
		Metadata:      make(map[string]string),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Advance moves the deal to target if the transition is valid, recording
// the error message for FAILED transitions. It is a no-op error (not a
// panic) when the transition is invalid, since callers decide whether that
// is fatal.
func (d *Deal) Advance(target DealStatus, errMsg string) error {
	if !d.Status.CanTransitionTo(target) {
		return &InvalidTransitionError{From: d.Status, To: target}
	}
	d.Status = target
	if target == DealFailed {
		d.ErrorMessage = errMsg
	}
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// InvalidTransitionError reports an attempted DealStatus move that is not
// present in DealTransitions.
type InvalidTransitionError struct {
	From DealStatus
	To   DealStatus
}

func (e *InvalidTransitionError) Error() string {
	return "domain: invalid deal status transition from " + string(e.From) + " to " + string(e.To)
}

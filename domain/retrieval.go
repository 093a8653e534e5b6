package domain

import (
	"time"

	"github.com/google/uuid"
)

// RetrievalStatus is the lifecycle state of one retrieval-strategy result.
type RetrievalStatus string

const (
	RetrievalPending RetrievalStatus = "PENDING"
	RetrievalSuccess RetrievalStatus = "SUCCESS"
	RetrievalFailed  RetrievalStatus = "FAILED"
)

// RetrievalTransitions mirrors DealTransitions' shape at a smaller scale:
// PENDING moves forward once to a terminal state, never back.
var RetrievalTransitions = map[RetrievalStatus][]RetrievalStatus{
	RetrievalPending: {RetrievalSuccess, RetrievalFailed},
	RetrievalSuccess: {},
	RetrievalFailed:  {},
}

func (s RetrievalStatus) IsTerminal() bool {
	return len(RetrievalTransitions[s]) == 0
}

func (s RetrievalStatus) CanTransitionTo(target RetrievalStatus) bool {
	for _, next := range RetrievalTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Retrieval is the outcome of running one named strategy against a Deal.
type Retrieval struct {
	ID                uuid.UUID
	DealID            uuid.UUID
	ServiceType       string
	RetrievalEndpoint string
	Status            RetrievalStatus
	LatencyMs         int64
	TTFBMs            int64
	ThroughputBps     float64
	BytesRetrieved    int64
	ResponseCode      int
	ErrorMessage      string
	RetryCount        int
	ValidationMethod  string
	ValidationDetails string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewRetrieval returns a PENDING Retrieval row for the given Deal/strategy.
func NewRetrieval(dealID uuid.UUID, serviceType, endpoint string) *Retrieval {
	now := time.Now().UTC()
	return &Retrieval{
		ID:                uuid.New(),
		DealID:            dealID,
		ServiceType:       serviceType,
		RetrievalEndpoint: endpoint,
		Status:            RetrievalPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func (r *Retrieval) Advance(target RetrievalStatus, errMsg string) error {
	if !r.Status.CanTransitionTo(target) {
		return &InvalidRetrievalTransitionError{From: r.Status, To: target}
	}
	r.Status = target
	if target == RetrievalFailed {
		r.ErrorMessage = errMsg
	}
	r.UpdatedAt = time.Now().UTC()
	return nil
}

type InvalidRetrievalTransitionError struct {
	From RetrievalStatus
	To   RetrievalStatus
}

func (e *InvalidRetrievalTransitionError) Error() string {
	return "domain: invalid retrieval status transition from " + string(e.From) + " to " + string(e.To)
}

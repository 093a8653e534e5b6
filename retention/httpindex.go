package retention

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPIndex queries the external proving-period index over a plain
// GraphQL-over-HTTP POST, the concrete Index the retention poller is
// wired against in production. No GraphQL client library appears
// anywhere in the example corpus (checked every go.mod's direct and
// indirect requires), so this talks the wire format directly with
// encoding/json and net/http, the same stdlib-only posture probetransport
// already takes for plain HTTP.
type HTTPIndex struct {
	endpoint string
	http     *http.Client
}

// NewHTTPIndex builds an HTTPIndex against endpoint (a GraphQL HTTP
// endpoint), using timeout as the per-query request budget.
func NewHTTPIndex(endpoint string, timeout time.Duration) *HTTPIndex {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPIndex{endpoint: endpoint, http: &http.Client{Timeout: timeout}}
}

type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

func (e graphqlError) Error() string { return e.Message }

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

func (ix *HTTPIndex) query(ctx context.Context, q string, vars map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(graphqlRequest{Query: q, Variables: vars})
	if err != nil {
		return fmt.Errorf("retention: marshal index query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ix.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("retention: build index query: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ix.http.Do(req)
	if err != nil {
		return fmt.Errorf("retention: index query: %w", err)
	}
	defer resp.Body.Close()

	var gr graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return fmt.Errorf("retention: decode index response: %w", err)
	}
	if len(gr.Errors) > 0 {
		return fmt.Errorf("retention: index query errors: %w", gr.Errors[0])
	}
	if err := json.Unmarshal(gr.Data, out); err != nil {
		return fmt.Errorf("retention: unmarshal index data: %w", err)
	}
	return nil
}

// BlockNumber queries the index's current snapshot marker.
func (ix *HTTPIndex) BlockNumber(ctx context.Context) (int64, error) {
	var data struct {
		Meta struct {
			Block struct {
				Number int64 `json:"number"`
			} `json:"block"`
		} `json:"_meta"`
	}
	const q = `{ _meta { block { number } } }`
	if err := ix.query(ctx, q, nil, &data); err != nil {
		return 0, err
	}
	return data.Meta.Block.Number, nil
}

// ProviderStats queries cumulative proving-period stats for addresses as
// of blockNumber.
func (ix *HTTPIndex) ProviderStats(ctx context.Context, addresses []string, blockNumber int64) ([]ProviderIndexStats, error) {
	var data struct {
		Providers []struct {
			Address             string `json:"address"`
			TotalFaultedPeriods int64  `json:"totalFaultedPeriods"`
			TotalProvingPeriods int64  `json:"totalProvingPeriods"`
			ProofSets           []struct {
				MaxProvingPeriod int64 `json:"maxProvingPeriod"`
				NextDeadline     int64 `json:"nextDeadline"`
			} `json:"proofSets"`
		} `json:"providers"`
	}

	const q = `query($addresses: [String!]!, $block: Int!) {
		providers(where: { address_in: $addresses }, block: { number: $block }) {
			address
			totalFaultedPeriods
			totalProvingPeriods
			proofSets { maxProvingPeriod nextDeadline }
		}
	}`
	vars := map[string]interface{}{"addresses": addresses, "block": blockNumber}
	if err := ix.query(ctx, q, vars, &data); err != nil {
		return nil, err
	}

	stats := make([]ProviderIndexStats, 0, len(data.Providers))
	for _, p := range data.Providers {
		st := ProviderIndexStats{
			Address:             p.Address,
			TotalFaultedPeriods: p.TotalFaultedPeriods,
			TotalProvingPeriods: p.TotalProvingPeriods,
			ProofSets:           make([]ProofSet, 0, len(p.ProofSets)),
		}
		for _, ps := range p.ProofSets {
			st.ProofSets = append(st.ProofSets, ProofSet{MaxProvingPeriod: ps.MaxProvingPeriod, NextDeadline: ps.NextDeadline})
		}
		stats = append(stats, st)
	}
	return stats, nil
}

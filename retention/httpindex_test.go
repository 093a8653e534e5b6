package retention

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPIndexBlockNumber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.Contains(t, string(body), "_meta")
		w.Write([]byte(`{"data":{"_meta":{"block":{"number":42}}}}`))
	}))
	defer srv.Close()

	ix := NewHTTPIndex(srv.URL, time.Second)
	n, err := ix.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestHTTPIndexProviderStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Variables map[string]interface{} `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.ElementsMatch(t, []interface{}{"0xsp1", "0xsp2"}, req.Variables["addresses"])

		w.Write([]byte(`{"data":{"providers":[
			{"address":"0xsp1","totalFaultedPeriods":1,"totalProvingPeriods":10,
			 "proofSets":[{"maxProvingPeriod":100,"nextDeadline":200}]}
		]}}`))
	}))
	defer srv.Close()

	ix := NewHTTPIndex(srv.URL, time.Second)
	stats, err := ix.ProviderStats(context.Background(), []string{"0xsp1", "0xsp2"}, 42)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "0xsp1", stats[0].Address)
	assert.Equal(t, int64(1), stats[0].TotalFaultedPeriods)
	assert.Equal(t, int64(10), stats[0].TotalProvingPeriods)
	require.Len(t, stats[0].ProofSets, 1)
	assert.Equal(t, int64(100), stats[0].ProofSets[0].MaxProvingPeriod)
}

func TestHTTPIndexPropagatesGraphQLError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":[{"message":"index unavailable"}]}`))
	}))
	defer srv.Close()

	ix := NewHTTPIndex(srv.URL, time.Second)
	_, err := ix.BlockNumber(context.Background())
	assert.ErrorContains(t, err, "index unavailable")
}

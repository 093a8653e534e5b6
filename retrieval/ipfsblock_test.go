package retrieval

import (
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/spprobe/archive"
	"github.com/evalgo/spprobe/probetransport"
)

// encodeInteriorForTest mirrors archive's internal interior-block wire
// shape (count + (cid,size) pairs) using only archive's exported CID
// surface, so the fixture stays honest to the real decoder without
// reaching into unexported package internals.
func encodeInteriorForTest(links []archive.Link) []byte {
	buf := make([]byte, 0, 4+len(links)*(34+8))
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(links)))
	buf = append(buf, countBuf[:]...)
	for _, l := range links {
		buf = append(buf, l.CID.Bytes()...)
		var sizeBuf [8]byte
		binary.BigEndian.PutUint64(sizeBuf[:], l.Size)
		buf = append(buf, sizeBuf[:]...)
	}
	return buf
}

func TestIPFSBlockStrategySingleLeafSuccess(t *testing.T) {
	payload := []byte("leaf payload")
	root := archive.NewCID(archive.CodecRawLeaf, payload)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	client := probetransport.New(probetransport.DefaultConfig())
	s := NewIPFSBlockStrategy(client)
	sctx := StrategyContext{ServiceURL: srv.URL, RootCID: root.String()}

	require.True(t, s.CanHandle(sctx))

	result, err := client.Get(context.Background(), s.ConstructURL(sctx), nil, false)
	require.NoError(t, err)
	defer result.Body.Close()

	outcome, err := s.Validate(context.Background(), result.Body, sctx)
	require.NoError(t, err)
	assert.True(t, outcome.IsValid)
	assert.Equal(t, int64(len(payload)), outcome.BytesRead)
}

func TestIPFSBlockStrategyMultiBlockDAGSuccess(t *testing.T) {
	leafA := []byte("block a")
	leafB := []byte("block b")
	cidA := archive.NewCID(archive.CodecRawLeaf, leafA)
	cidB := archive.NewCID(archive.CodecRawLeaf, leafB)

	interior := encodeInteriorForTest([]archive.Link{
		{CID: cidA, Size: uint64(len(leafA))},
		{CID: cidB, Size: uint64(len(leafB))},
	})
	root := archive.NewCID(archive.CodecDagPBInterior, interior)

	blocks := map[string][]byte{
		root.String(): interior,
		cidA.String(): leafA,
		cidB.String(): leafB,
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.URL.Path[len("/ipfs/"):]
		block, ok := blocks[cid]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(block)
	}))
	defer srv.Close()

	client := probetransport.New(probetransport.DefaultConfig())
	s := NewIPFSBlockStrategy(client)
	sctx := StrategyContext{ServiceURL: srv.URL, RootCID: root.String(), IPFSBlockFetchConcurrency: 2}

	result, err := client.Get(context.Background(), s.ConstructURL(sctx), nil, false)
	require.NoError(t, err)
	defer result.Body.Close()

	outcome, err := s.Validate(context.Background(), result.Body, sctx)
	require.NoError(t, err)
	assert.True(t, outcome.IsValid)
	assert.Equal(t, int64(len(interior)+len(leafA)+len(leafB)), outcome.BytesRead)
}

func TestIPFSBlockStrategyCorruptedChildFails(t *testing.T) {
	leafA := []byte("block a")
	wrongA := []byte("tampered a")
	cidA := archive.NewCID(archive.CodecRawLeaf, leafA)

	interior := encodeInteriorForTest([]archive.Link{
		{CID: cidA, Size: uint64(len(leafA))},
	})
	root := archive.NewCID(archive.CodecDagPBInterior, interior)

	blocks := map[string][]byte{
		root.String(): interior,
		cidA.String(): wrongA,
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.URL.Path[len("/ipfs/"):]
		block, ok := blocks[cid]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(block)
	}))
	defer srv.Close()

	client := probetransport.New(probetransport.DefaultConfig())
	s := NewIPFSBlockStrategy(client)
	sctx := StrategyContext{ServiceURL: srv.URL, RootCID: root.String()}

	result, err := client.Get(context.Background(), s.ConstructURL(sctx), nil, false)
	require.NoError(t, err)
	defer result.Body.Close()

	outcome, err := s.Validate(context.Background(), result.Body, sctx)
	require.NoError(t, err)
	assert.False(t, outcome.IsValid)
}

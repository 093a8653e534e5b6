package archive

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// maxLeafSize bounds how large a single raw-leaf block may be; payloads
// bigger than this are split into multiple leaves under one interior
// block, so a large upload probe payload still validates block-by-block
// instead of as one unbounded read.
const maxLeafSize = 256 * 1024

const (
	magic         = "CARS"
	formatVersion = 1
	cidWireSize   = 2 + 32 // Codec + hash algorithm + sha256 digest, see CID.Bytes
)

// Validation error tags, per spec.md §4.4.
const (
	ErrRootCIDMismatch = "root-cid-mismatch"
	ErrCIDVerifyError  = "cid-verify-error"
	ErrCARReadError    = "car-read-error"
)

// Encode builds an archive from data: data is chunked into raw-leaf
// blocks of at most maxLeafSize bytes; if there is more than one leaf, a
// dag-pb-interior block linking them becomes the root, otherwise the
// single leaf is the root. Returns the encoded archive bytes and the
// root CID.
func Encode(data []byte) ([]byte, CID, error) {
	var leaves [][]byte
	if len(data) == 0 {
		leaves = [][]byte{{}}
	} else {
		for off := 0; off < len(data); off += maxLeafSize {
			end := off + maxLeafSize
			if end > len(data) {
				end = len(data)
			}
			leaves = append(leaves, data[off:end])
		}
	}

	leafCIDs := make([]CID, len(leaves))
	for i, leaf := range leaves {
		leafCIDs[i] = NewCID(CodecRawLeaf, leaf)
	}

	var root CID
	var blocks [][2]interface{} // pairs of (CID, bytes), root block first
	if len(leaves) == 1 {
		root = leafCIDs[0]
		blocks = [][2]interface{}{{leafCIDs[0], leaves[0]}}
	} else {
		links := make([]Link, len(leaves))
		for i, leaf := range leaves {
			links[i] = Link{CID: leafCIDs[i], Size: uint64(len(leaf))}
		}
		interior := encodeInterior(links)
		root = NewCID(CodecDagPBInterior, interior)
		blocks = append(blocks, [2]interface{}{root, interior})
		for i, leaf := range leaves {
			blocks = append(blocks, [2]interface{}{leafCIDs[i], leaf})
		}
	}

	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.WriteByte(formatVersion)
	buf.Write(root.Bytes())
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(blocks)))
	buf.Write(countBuf[:])

	for _, b := range blocks {
		cid := b[0].(CID)
		payload := b[1].([]byte)
		buf.Write(cid.Bytes())
		var lenBuf [8]byte
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(payload)))
		buf.Write(lenBuf[:])
		buf.Write(payload)
	}

	return buf.Bytes(), root, nil
}

// Decode fully reconstructs the original bytes from an in-memory archive,
// verifying every block's hash and the declared root against expectedRoot.
// This is the buffered counterpart to ValidateCarContentStream, used by
// round-trip tests and anywhere the whole archive is already in memory.
func Decode(archiveBytes []byte, expectedRoot CID) ([]byte, error) {
	result, blocks, err := readArchive(bytes.NewReader(archiveBytes), expectedRoot, true)
	if err != nil {
		return nil, err
	}
	if !result.IsValid {
		return nil, fmt.Errorf("archive: decode: %v", result.Errors)
	}
	return reconstruct(result.root, blocks)
}

// ValidationResult is the outcome of validating a streamed archive.
type ValidationResult struct {
	IsValid         bool
	Method          string
	VerifiedRootCID *CID
	Errors          []string
	BytesRead       int64
	TTFB            time.Duration

	root CID
}

// timedReader records the duration from construction to the first
// completed Read, giving TTFB the same way a probe transport would.
type timedReader struct {
	r         io.Reader
	start     time.Time
	firstByte time.Duration
	seen      bool
	total     int64
}

func (t *timedReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		t.total += int64(n)
		if !t.seen {
			t.firstByte = time.Since(t.start)
			t.seen = true
		}
	}
	return n, err
}

// ValidateCarContentStream reads an archive lazily from stream and
// verifies it against expectedRoot, one block at a time, so a corrupted
// or mismatched archive need not be buffered in full before the defect is
// found. stream.Close is always invoked exactly once, on every return
// path, so resources are released whether validation succeeds, fails, or
// errors outright.
func ValidateCarContentStream(stream io.ReadCloser, expectedRoot CID) (ValidationResult, error) {
	defer stream.Close()

	tr := &timedReader{r: stream, start: time.Now()}
	result, _, err := readArchive(tr, expectedRoot, false)
	result.BytesRead = tr.total
	result.TTFB = tr.firstByte
	return result, err
}

// readArchive is the shared lazy reader behind Decode and
// ValidateCarContentStream. When keepBlocks is true every block's bytes
// are retained for reconstruction (Decode); ValidateCarContentStream
// passes false since it only needs to confirm validity.
func readArchive(r io.Reader, expectedRoot CID, keepBlocks bool) (ValidationResult, map[CID][]byte, error) {
	result := ValidationResult{Method: "car-stream"}
	br := bufio.NewReader(r)

	hdr := make([]byte, len(magic)+1+cidWireSize+4)
	if _, err := io.ReadFull(br, hdr); err != nil {
		result.Errors = append(result.Errors, ErrCARReadError)
		return result, nil, fmt.Errorf("archive: read header: %w", err)
	}
	if string(hdr[:len(magic)]) != magic {
		result.Errors = append(result.Errors, ErrCARReadError)
		return result, nil, fmt.Errorf("archive: bad magic")
	}
	pos := len(magic) + 1
	root, err := cidFromBytes(hdr[pos : pos+cidWireSize])
	if err != nil {
		result.Errors = append(result.Errors, ErrCARReadError)
		return result, nil, fmt.Errorf("archive: parse root cid: %w", err)
	}
	result.root = root
	blockCount := binary.BigEndian.Uint32(hdr[pos+cidWireSize:])

	if root != expectedRoot {
		result.Errors = append(result.Errors, ErrRootCIDMismatch)
		return result, nil, nil
	}

	var blocks map[CID][]byte
	if keepBlocks {
		blocks = make(map[CID][]byte, blockCount)
	}

	for i := uint32(0); i < blockCount; i++ {
		cidBuf := make([]byte, cidWireSize)
		if _, err := io.ReadFull(br, cidBuf); err != nil {
			result.Errors = append(result.Errors, ErrCARReadError)
			return result, nil, fmt.Errorf("archive: read block %d cid: %w", i, err)
		}
		cid, err := cidFromBytes(cidBuf)
		if err != nil {
			result.Errors = append(result.Errors, ErrCARReadError)
			return result, nil, fmt.Errorf("archive: parse block %d cid: %w", i, err)
		}

		lenBuf := make([]byte, 8)
		if _, err := io.ReadFull(br, lenBuf); err != nil {
			result.Errors = append(result.Errors, ErrCARReadError)
			return result, nil, fmt.Errorf("archive: read block %d length: %w", i, err)
		}
		length := binary.BigEndian.Uint64(lenBuf)

		payload := make([]byte, length)
		if _, err := io.ReadFull(br, payload); err != nil {
			result.Errors = append(result.Errors, ErrCARReadError)
			return result, nil, fmt.Errorf("archive: read block %d payload: %w", i, err)
		}

		if !SupportedCodec(cid.Codec) {
			result.Errors = append(result.Errors, ErrCIDVerifyError)
			return result, nil, nil
		}
		if !cid.Verify(payload) {
			result.Errors = append(result.Errors, ErrCIDVerifyError)
			return result, nil, nil
		}

		if keepBlocks {
			blocks[cid] = payload
		}
	}

	result.IsValid = true
	rootCopy := root
	result.VerifiedRootCID = &rootCopy
	return result, blocks, nil
}

// reconstruct walks root (a single level, raw leaf or interior) and
// concatenates the original bytes.
func reconstruct(root CID, blocks map[CID][]byte) ([]byte, error) {
	rootBlock, ok := blocks[root]
	if !ok {
		return nil, fmt.Errorf("archive: root block %s missing from archive", root)
	}
	if root.Codec == CodecRawLeaf {
		return rootBlock, nil
	}

	links, err := decodeInterior(rootBlock)
	if err != nil {
		return nil, fmt.Errorf("archive: decode interior root: %w", err)
	}
	var out []byte
	for _, link := range links {
		leaf, ok := blocks[link.CID]
		if !ok {
			return nil, fmt.Errorf("archive: leaf block %s missing from archive", link.CID)
		}
		out = append(out, leaf...)
	}
	return out, nil
}

// Links returns the decoded child links of an interior block, for
// callers traversing a DAG one HTTP-fetched block at a time (C4's
// IPFS-block strategy). Returns nil for a raw-leaf block, which has no
// children.
func Links(codec Codec, block []byte) ([]Link, error) {
	if codec != CodecDagPBInterior {
		return nil, nil
	}
	return decodeInterior(block)
}

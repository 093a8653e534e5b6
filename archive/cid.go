// Package archive is the content-addressed archive codec (C3): it builds
// a self-describing byte sequence of content-addressed blocks from a flat
// payload, and validates an archive — streamed, not buffered — against a
// declared root identifier. There is no ZIP, tar, or other general
// archive format involved; every block is addressed by the SHA-256 hash
// of its own bytes, the same invariant the retrieval strategies (C4)
// verify independently over HTTP.
package archive

import (
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"strings"
)

// Codec identifies what a block's bytes represent, the way a CID's codec
// field does in a real content-addressing scheme: a raw leaf holds
// payload bytes directly; a dag-pb interior holds a link list pointing at
// child blocks.
type Codec uint8

const (
	CodecRawLeaf        Codec = 0x01
	CodecDagPBInterior   Codec = 0x02
)

func (c Codec) String() string {
	switch c {
	case CodecRawLeaf:
		return "raw-leaf"
	case CodecDagPBInterior:
		return "dag-pb-interior"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(c))
	}
}

// HashSHA256 is the only hash algorithm this codec supports, matching
// spec.md §4.4's requirement that IPFS-block validation "require the
// hash algorithm to be SHA-256".
const HashSHA256 uint8 = 0x12

// cidEncoding renders a CID's raw bytes as a lowercase base32 string
// prefixed with "b", the shape of a real multibase-prefixed CID string
// without claiming wire compatibility with any specific IPLD encoding.
var cidEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// CID is a content identifier: a codec tag plus a SHA-256 digest of the
// block it addresses.
type CID struct {
	Codec  Codec
	Hash   [sha256.Size]byte
}

// NewCID computes the CID of block under the given codec.
func NewCID(codec Codec, block []byte) CID {
	return CID{Codec: codec, Hash: sha256.Sum256(block)}
}

// Bytes renders the CID as its 34-byte wire form: 1 byte codec, 1 byte
// hash algorithm, 32 byte digest.
func (c CID) Bytes() []byte {
	out := make([]byte, 0, 2+sha256.Size)
	out = append(out, byte(c.Codec), HashSHA256)
	out = append(out, c.Hash[:]...)
	return out
}

// String renders the CID the way a caller would log or store it.
func (c CID) String() string {
	return "b" + strings.ToLower(cidEncoding.EncodeToString(c.Bytes()))
}

// ParseCID parses a CID previously produced by String.
func ParseCID(s string) (CID, error) {
	if len(s) < 2 || s[0] != 'b' {
		return CID{}, fmt.Errorf("archive: malformed cid %q: missing multibase prefix", s)
	}
	raw, err := cidEncoding.DecodeString(strings.ToUpper(s[1:]))
	if err != nil {
		return CID{}, fmt.Errorf("archive: malformed cid %q: %w", s, err)
	}
	return cidFromBytes(raw)
}

func cidFromBytes(raw []byte) (CID, error) {
	if len(raw) != 2+sha256.Size {
		return CID{}, fmt.Errorf("archive: malformed cid: want %d bytes, got %d", 2+sha256.Size, len(raw))
	}
	if raw[1] != HashSHA256 {
		return CID{}, fmt.Errorf("archive: unsupported hash algorithm 0x%02x", raw[1])
	}
	var cid CID
	cid.Codec = Codec(raw[0])
	copy(cid.Hash[:], raw[2:])
	return cid, nil
}

// Verify reports whether block hashes to c's digest.
func (c CID) Verify(block []byte) bool {
	return sha256.Sum256(block) == c.Hash
}

// SupportedCodec reports whether codec is one of the two this module
// understands, per spec.md §4.4's "require the codec to be one of
// {raw-leaf, dag-pb-interior}".
func SupportedCodec(codec Codec) bool {
	return codec == CodecRawLeaf || codec == CodecDagPBInterior
}

package archive

import (
	"encoding/binary"
	"fmt"
)

// Link is one child reference inside a dag-pb-interior block: the
// child's CID and the size of the (decoded) bytes it contributes.
type Link struct {
	CID  CID
	Size uint64
}

// encodeInterior serialises links into an interior block's payload: a
// count followed by (cid, size) pairs. This is this module's own
// link-list wire shape — not a translation of any external IPLD codec.
func encodeInterior(links []Link) []byte {
	buf := make([]byte, 0, 4+len(links)*(2+32+8))
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

// decodeInterior parses an interior block's payload back into its links.
func decodeInterior(block []byte) ([]Link, error) {
	if len(block) < 4 {
		return nil, fmt.Errorf("archive: interior block too short: %d bytes", len(block))
	}
	count := binary.BigEndian.Uint32(block[:4])
	pos := 4
	links := make([]Link, 0, count)
	for i := uint32(0); i < count; i++ {
		if pos+34+8 > len(block) {
			return nil, fmt.Errorf("archive: interior block truncated at link %d", i)
		}
		cid, err := cidFromBytes(block[pos : pos+34])
		if err != nil {
			return nil, fmt.Errorf("archive: interior block link %d: %w", i, err)
		}
		pos += 34
		size := binary.BigEndian.Uint64(block[pos : pos+8])
		pos += 8
		links = append(links, Link{CID: cid, Size: size})
	}
	return links, nil
}

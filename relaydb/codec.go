package relaydb

import (
	"encoding/binary"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// writeOutPoint serializes an outpoint as the 32 byte txid followed by the
// little-endian output index. This is the value-level encoding; keys use
// OutpointKey instead.
func writeOutPoint(w io.Writer, o *wire.OutPoint) error {
	if _, err := w.Write(o.Hash[:]); err != nil {
		return err
	}

	var idx [4]byte
	byteOrder.PutUint32(idx[:], o.Index)
	_, err := w.Write(idx[:])

	return err
}

// readOutPoint deserializes an outpoint written by writeOutPoint.
func readOutPoint(r io.Reader, o *wire.OutPoint) error {
	var h [chainhash.HashSize]byte
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return err
	}
	copy(o.Hash[:], h[:])

	var idx [4]byte
	if _, err := io.ReadFull(r, idx[:]); err != nil {
		return err
	}
	o.Index = byteOrder.Uint32(idx[:])

	return nil
}

// writeRequestIDs serializes a request ID set as a little-endian count
// followed by the raw 32 byte IDs in order.
func writeRequestIDs(w io.Writer, ids []RequestID) error {
	var count [4]byte
	byteOrder.PutUint32(count[:], uint32(len(ids)))
	if _, err := w.Write(count[:]); err != nil {
		return err
	}

	for _, id := range ids {
		if _, err := w.Write(id[:]); err != nil {
			return err
		}
	}

	return nil
}

// readRequestIDs deserializes a request ID set written by writeRequestIDs.
func readRequestIDs(r io.Reader) ([]RequestID, error) {
	var count [4]byte
	if _, err := io.ReadFull(r, count[:]); err != nil {
		return nil, err
	}

	numIDs := byteOrder.Uint32(count[:])
	ids := make([]RequestID, 0, numIDs)
	for i := uint32(0); i < numIDs; i++ {
		var id RequestID
		if _, err := io.ReadFull(r, id[:]); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, nil
}

// writeVarBytes serializes a byte string with a leading CompactSize length.
func writeVarBytes(w io.Writer, b []byte) error {
	if err := wire.WriteVarInt(w, 0, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)

	return err
}

// readVarBytes deserializes a byte string written by writeVarBytes.
func readVarBytes(r io.Reader) ([]byte, error) {
	length, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}

	b := make([]byte, length)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}

	return b, nil
}

// OutpointKey returns the canonical 36 byte key of an outpoint: the txid
// followed by the big-endian output index. Big-endian keeps outputs of the
// same transaction adjacent and ordered under cursor scans. The same bytes
// are the filter membership item for the outpoint.
func OutpointKey(o *wire.OutPoint) []byte {
	key := make([]byte, chainhash.HashSize+4)
	copy(key, o.Hash[:])
	binary.BigEndian.PutUint32(key[chainhash.HashSize:], o.Index)

	return key
}

// outpointFromKey decodes an OutpointKey back into an outpoint.
func outpointFromKey(key []byte, o *wire.OutPoint) error {
	if len(key) != chainhash.HashSize+4 {
		return ErrOutpointNotFound
	}
	copy(o.Hash[:], key[:chainhash.HashSize])
	o.Index = binary.BigEndian.Uint32(key[chainhash.HashSize:])

	return nil
}

// scriptRecordKey returns the full database key of a script record.
func scriptRecordKey(hash *chainhash.Hash) []byte {
	return append(scriptPrefix[:len(scriptPrefix):len(scriptPrefix)],
		hash[:]...)
}

// outpointRecordKey returns the full database key of an outpoint record.
func outpointRecordKey(o *wire.OutPoint) []byte {
	return append(outpointPrefix[:len(outpointPrefix):len(outpointPrefix)],
		OutpointKey(o)...)
}

// requestKey returns the full database key of a request.
func requestKey(id RequestID) []byte {
	return append(requestPrefix[:len(requestPrefix):len(requestPrefix)],
		id[:]...)
}

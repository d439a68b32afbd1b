package relaydb

import (
	"bytes"
	"encoding/hex"
	"io"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
)

// RequestIDSize is the size of a request identifier in bytes.
const RequestIDSize = 32

// AddressSize is the size of the opaque address payload carried by a
// request.
const AddressSize = 20

// RequestID is the client-chosen identifier of a request. IDs order
// lexicographically on their raw bytes, which is the order cursor scans and
// the latest-request lookups observe.
type RequestID [RequestIDSize]byte

// String returns the hex encoding of the raw ID bytes.
func (id RequestID) String() string {
	return hex.EncodeToString(id[:])
}

// zeroOutPoint is the all-zero outpoint, used to mark an absent spends
// criterion and an unobserved nextout edge.
var zeroOutPoint wire.OutPoint

// Request is a client subscription. It asks to be notified when a watched
// outpoint is spent and/or when a new output paying to a watched script
// confirms.
type Request struct {
	// ID is the 32 byte identifier chosen by the client.
	ID RequestID

	// Address is an opaque payload echoed back in notifications.
	Address [AddressSize]byte

	// Value is an application-defined threshold carried verbatim.
	Value uint64

	// Spends is the outpoint whose spend satisfies the request. The zero
	// outpoint marks the criterion as absent.
	Spends wire.OutPoint

	// Pays is the raw scriptPubKey whose appearance in a new output
	// satisfies the request. Empty marks the criterion as absent.
	Pays []byte

	// Timestamp is the unix time the request was persisted at. It is
	// assigned once on insert and never mutated.
	Timestamp uint32
}

// HasSpends reports whether the request carries a spend criterion.
func (r *Request) HasSpends() bool {
	return r.Spends != zeroOutPoint
}

// HasPays reports whether the request carries a script criterion.
func (r *Request) HasPays() bool {
	return len(r.Pays) > 0
}

// Validate checks the structural invariants of a request: at least one of
// the two criteria must be present and the script must not exceed the
// consensus maximum size.
func (r *Request) Validate() error {
	if !r.HasSpends() && !r.HasPays() {
		return ErrNoCriteria
	}
	if len(r.Pays) > txscript.MaxScriptSize {
		return ErrScriptTooLarge
	}

	return nil
}

// serializeRequest writes the value-level encoding of a request. The ID is
// carried by the database key and is not part of the payload.
func serializeRequest(w io.Writer, r *Request) error {
	if _, err := w.Write(r.Address[:]); err != nil {
		return err
	}

	var value [8]byte
	byteOrder.PutUint64(value[:], r.Value)
	if _, err := w.Write(value[:]); err != nil {
		return err
	}

	if err := writeOutPoint(w, &r.Spends); err != nil {
		return err
	}

	var timestamp [4]byte
	byteOrder.PutUint32(timestamp[:], r.Timestamp)
	if _, err := w.Write(timestamp[:]); err != nil {
		return err
	}

	return writeVarBytes(w, r.Pays)
}

// deserializeRequest reads a request payload back. The ID is supplied by the
// caller as it lives in the key.
func deserializeRequest(r io.Reader, id RequestID) (*Request, error) {
	req := &Request{ID: id}

	if _, err := io.ReadFull(r, req.Address[:]); err != nil {
		return nil, err
	}

	var value [8]byte
	if _, err := io.ReadFull(r, value[:]); err != nil {
		return nil, err
	}
	req.Value = byteOrder.Uint64(value[:])

	if err := readOutPoint(r, &req.Spends); err != nil {
		return nil, err
	}

	var timestamp [4]byte
	if _, err := io.ReadFull(r, timestamp[:]); err != nil {
		return nil, err
	}
	req.Timestamp = byteOrder.Uint32(timestamp[:])

	pays, err := readVarBytes(r)
	if err != nil {
		return nil, err
	}
	if len(pays) > 0 {
		req.Pays = pays
	}

	return req, nil
}

// putRequest writes a request into the relay bucket, overwriting any prior
// request stored under the same ID.
func putRequest(relay walletdb.ReadWriteBucket, r *Request) error {
	var b bytes.Buffer
	if err := serializeRequest(&b, r); err != nil {
		return err
	}

	return relay.Put(requestKey(r.ID), b.Bytes())
}

// fetchRequest reads the request stored under the given ID.
func fetchRequest(relay walletdb.ReadBucket, id RequestID) (*Request, error) {
	rawRequest := relay.Get(requestKey(id))
	if rawRequest == nil {
		return nil, ErrRequestNotFound
	}

	return deserializeRequest(bytes.NewReader(rawRequest), id)
}

// PutRequest persists the passed request. An existing request under the same
// ID is silently overwritten.
func (d *DB) PutRequest(r *Request) error {
	if err := r.Validate(); err != nil {
		return err
	}

	return d.Update(func(tx walletdb.ReadWriteTx) error {
		relay := tx.ReadWriteBucket(relayBucket)
		if relay == nil {
			return ErrNoRelayBucket
		}

		return putRequest(relay, r)
	}, func() {})
}

// AddRequest persists the request together with its derived reverse index
// entries in a single atomic transaction. A spends criterion yields an
// outpoint record and a pays criterion a script record, both merged with
// union semantics into any entries already present. The merged records are
// returned; a nil slot means the corresponding criterion was absent.
func (d *DB) AddRequest(r *Request) (*OutpointRecord, *ScriptRecord, error) {
	if err := r.Validate(); err != nil {
		return nil, nil, err
	}

	var (
		opRec *OutpointRecord
		sRec  *ScriptRecord
	)
	err := d.Update(func(tx walletdb.ReadWriteTx) error {
		relay := tx.ReadWriteBucket(relayBucket)
		if relay == nil {
			return ErrNoRelayBucket
		}

		if err := putRequest(relay, r); err != nil {
			return err
		}

		if r.HasSpends() {
			var err error
			opRec, err = putOutpointRecord(
				relay, NewOutpointRecord(r.Spends, r.ID),
			)
			if err != nil {
				return err
			}
		}

		if r.HasPays() {
			var err error
			sRec, err = putScriptRecord(
				relay, NewScriptRecord(r.Pays, r.ID),
			)
			if err != nil {
				return err
			}
		}

		return nil
	}, func() {
		opRec, sRec = nil, nil
	})
	if err != nil {
		return nil, nil, err
	}

	return opRec, sRec, nil
}

// FetchRequest returns the request stored under the given ID, or
// ErrRequestNotFound if no such request exists.
func (d *DB) FetchRequest(id RequestID) (*Request, error) {
	var req *Request
	err := d.View(func(tx walletdb.ReadTx) error {
		relay := tx.ReadBucket(relayBucket)
		if relay == nil {
			return ErrNoRelayBucket
		}

		var err error
		req, err = fetchRequest(relay, id)

		return err
	}, func() { req = nil })
	if err != nil {
		return nil, err
	}

	return req, nil
}

// HasRequest reports whether a request exists under the given ID.
func (d *DB) HasRequest(id RequestID) (bool, error) {
	_, err := d.FetchRequest(id)
	switch {
	case err == nil:
		return true, nil
	case err == ErrRequestNotFound:
		return false, nil
	default:
		return false, err
	}
}

// DeleteRequest removes the request stored under the given ID. The reverse
// index entries derived from the request are intentionally left in place,
// matching the write-path which never reconciles them.
func (d *DB) DeleteRequest(id RequestID) error {
	return d.Update(func(tx walletdb.ReadWriteTx) error {
		relay := tx.ReadWriteBucket(relayBucket)
		if relay == nil {
			return ErrNoRelayBucket
		}

		return relay.Delete(requestKey(id))
	}, func() {})
}

// ForEachRequest invokes f for every stored request in ascending ID order.
func (d *DB) ForEachRequest(f func(*Request) error) error {
	return d.View(func(tx walletdb.ReadTx) error {
		relay := tx.ReadBucket(relayBucket)
		if relay == nil {
			return ErrNoRelayBucket
		}

		return forEachPrefix(relay, requestPrefix, func(k, v []byte) error {
			if len(k) != RequestIDSize {
				return ErrRequestNotFound
			}

			var id RequestID
			copy(id[:], k)

			req, err := deserializeRequest(bytes.NewReader(v), id)
			if err != nil {
				return err
			}

			return f(req)
		})
	}, func() {})
}

// LatestRequest returns the stored request with the greatest ID, or
// ErrRequestNotFound for an empty database.
func (d *DB) LatestRequest() (*Request, error) {
	var maxID RequestID
	for i := range maxID {
		maxID[i] = 0xff
	}

	return d.LatestRequestUnder(maxID)
}

// LatestRequestUnder returns the stored request with the greatest ID less
// than or equal to maxID under lexicographic byte order, or
// ErrRequestNotFound if none qualifies.
func (d *DB) LatestRequestUnder(maxID RequestID) (*Request, error) {
	var req *Request
	err := d.View(func(tx walletdb.ReadTx) error {
		relay := tx.ReadBucket(relayBucket)
		if relay == nil {
			return ErrNoRelayBucket
		}

		cursor := relay.ReadCursor()

		// Position the cursor at the first key at or past the upper
		// bound, then step back until we are inside the request range.
		k, v := cursor.Seek(requestKey(maxID))
		if k == nil || !bytes.Equal(k, requestKey(maxID)) {
			k, v = cursor.Prev()
			if k == nil && v == nil {
				// An empty cursor position can also mean the
				// seek ran past the last key of the bucket.
				k, v = cursor.Last()
			}
		}

		if k == nil || !bytes.HasPrefix(k, requestPrefix) ||
			len(k) != len(requestPrefix)+RequestIDSize {

			return ErrRequestNotFound
		}

		var id RequestID
		copy(id[:], k[len(requestPrefix):])
		if bytes.Compare(id[:], maxID[:]) > 0 {
			return ErrRequestNotFound
		}

		var err error
		req, err = deserializeRequest(bytes.NewReader(v), id)

		return err
	}, func() { req = nil })
	if err != nil {
		return nil, err
	}

	return req, nil
}

package relaydb

import (
	"bytes"
	"io"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
)

// OutpointRecord is the reverse index entry from a watched outpoint to the
// set of requests referencing it. Once the outpoint is observed being spent,
// the spending outpoint is recorded on the Nextout edge.
type OutpointRecord struct {
	// Prevout is the watched outpoint and doubles as the storage key.
	Prevout wire.OutPoint

	// Nextout identifies the input that spent Prevout, expressed as
	// (spending txid, input index). It holds the zero outpoint until a
	// spend is observed.
	Nextout wire.OutPoint

	// Requests is the ordered, deduplicated set of request IDs
	// referencing the outpoint. Persisted records always carry at least
	// one entry.
	Requests []RequestID
}

// NewOutpointRecord builds a fresh record for the passed outpoint
// referencing a single request.
func NewOutpointRecord(prevout wire.OutPoint, id RequestID) *OutpointRecord {
	return &OutpointRecord{
		Prevout:  prevout,
		Requests: []RequestID{id},
	}
}

// Spent reports whether a spend of the watched outpoint has been recorded.
func (r *OutpointRecord) Spent() bool {
	return r.Nextout != zeroOutPoint
}

// serializeOutpointRecord writes the value-level encoding of an outpoint
// record. The prevout lives in the key and is not serialized.
func serializeOutpointRecord(w io.Writer, r *OutpointRecord) error {
	if err := writeOutPoint(w, &r.Nextout); err != nil {
		return err
	}

	return writeRequestIDs(w, r.Requests)
}

// deserializeOutpointRecord reads an outpoint record payload back. The
// prevout is supplied by the caller from the key.
func deserializeOutpointRecord(r io.Reader,
	prevout wire.OutPoint) (*OutpointRecord, error) {

	rec := &OutpointRecord{Prevout: prevout}

	if err := readOutPoint(r, &rec.Nextout); err != nil {
		return nil, err
	}

	ids, err := readRequestIDs(r)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrEmptyFanOut
	}
	rec.Requests = ids

	return rec, nil
}

// putOutpointRecord merges the passed record into the bucket with union
// semantics, mirroring putScriptRecord. An existing record keeps its Nextout
// edge; only the request set is extended.
func putOutpointRecord(relay walletdb.ReadWriteBucket,
	r *OutpointRecord) (*OutpointRecord, error) {

	key := outpointRecordKey(&r.Prevout)

	stored := r
	if rawRecord := relay.Get(key); rawRecord != nil {
		existing, err := deserializeOutpointRecord(
			bytes.NewReader(rawRecord), r.Prevout,
		)
		if err != nil {
			return nil, err
		}

		changed := false
		for _, id := range r.Requests {
			var added bool
			existing.Requests, added = addRequestID(
				existing.Requests, id,
			)
			changed = changed || added
		}
		if !changed {
			return existing, nil
		}
		stored = existing
	}

	var b bytes.Buffer
	if err := serializeOutpointRecord(&b, stored); err != nil {
		return nil, err
	}
	if err := relay.Put(key, b.Bytes()); err != nil {
		return nil, err
	}

	return stored, nil
}

// fetchOutpointRecord reads the outpoint record stored under the given
// prevout.
func fetchOutpointRecord(relay walletdb.ReadBucket,
	prevout *wire.OutPoint) (*OutpointRecord, error) {

	rawRecord := relay.Get(outpointRecordKey(prevout))
	if rawRecord == nil {
		return nil, ErrOutpointNotFound
	}

	return deserializeOutpointRecord(bytes.NewReader(rawRecord), *prevout)
}

// PutOutpointRecord persists the passed record with union semantics and
// returns the merged record as stored.
func (d *DB) PutOutpointRecord(r *OutpointRecord) (*OutpointRecord, error) {
	var stored *OutpointRecord
	err := d.Update(func(tx walletdb.ReadWriteTx) error {
		relay := tx.ReadWriteBucket(relayBucket)
		if relay == nil {
			return ErrNoRelayBucket
		}

		var err error
		stored, err = putOutpointRecord(relay, r)

		return err
	}, func() { stored = nil })
	if err != nil {
		return nil, err
	}

	return stored, nil
}

// FetchOutpointRecord returns the record stored under the given outpoint, or
// ErrOutpointNotFound if the outpoint is not watched.
func (d *DB) FetchOutpointRecord(
	prevout *wire.OutPoint) (*OutpointRecord, error) {

	var rec *OutpointRecord
	err := d.View(func(tx walletdb.ReadTx) error {
		relay := tx.ReadBucket(relayBucket)
		if relay == nil {
			return ErrNoRelayBucket
		}

		var err error
		rec, err = fetchOutpointRecord(relay, prevout)

		return err
	}, func() { rec = nil })
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// HasOutpoint reports whether a record exists for the given outpoint.
func (d *DB) HasOutpoint(prevout *wire.OutPoint) (bool, error) {
	_, err := d.FetchOutpointRecord(prevout)
	switch {
	case err == nil:
		return true, nil
	case err == ErrOutpointNotFound:
		return false, nil
	default:
		return false, err
	}
}

// DeleteOutpointRecord removes the record stored under the given outpoint.
func (d *DB) DeleteOutpointRecord(prevout *wire.OutPoint) error {
	return d.Update(func(tx walletdb.ReadWriteTx) error {
		relay := tx.ReadWriteBucket(relayBucket)
		if relay == nil {
			return ErrNoRelayBucket
		}

		return relay.Delete(outpointRecordKey(prevout))
	}, func() {})
}

// ForEachOutpointRecord invokes f for every stored outpoint record in
// ascending key order.
func (d *DB) ForEachOutpointRecord(f func(*OutpointRecord) error) error {
	return d.View(func(tx walletdb.ReadTx) error {
		relay := tx.ReadBucket(relayBucket)
		if relay == nil {
			return ErrNoRelayBucket
		}

		return forEachPrefix(relay, outpointPrefix, func(k, v []byte) error {
			var prevout wire.OutPoint
			if err := outpointFromKey(k, &prevout); err != nil {
				return err
			}

			rec, err := deserializeOutpointRecord(
				bytes.NewReader(v), prevout,
			)
			if err != nil {
				return err
			}

			return f(rec)
		})
	}, func() {})
}

// SpendEdge couples a watched prevout with the outpoint-style (txid, input
// index) pair that spent it.
type SpendEdge struct {
	Prevout wire.OutPoint
	Nextout wire.OutPoint
}

// PutSpendEdges records the Nextout edge for each watched prevout in edges.
// Edges whose prevout is not watched are skipped. All updates commit in a
// single atomic transaction.
func (d *DB) PutSpendEdges(edges []SpendEdge) error {
	if len(edges) == 0 {
		return nil
	}

	return d.Update(func(tx walletdb.ReadWriteTx) error {
		relay := tx.ReadWriteBucket(relayBucket)
		if relay == nil {
			return ErrNoRelayBucket
		}

		for _, edge := range edges {
			err := updateSpendEdge(relay, edge.Prevout, edge.Nextout)
			if err != nil {
				return err
			}
		}

		return nil
	}, func() {})
}

// ClearSpendEdges resets the Nextout edge of each watched prevout in edges
// back to the zero outpoint, but only where the currently recorded edge
// matches the one being cleared. This unwinds evidence recorded from a block
// that has since been disconnected without clobbering evidence from a
// competing chain.
func (d *DB) ClearSpendEdges(edges []SpendEdge) error {
	if len(edges) == 0 {
		return nil
	}

	return d.Update(func(tx walletdb.ReadWriteTx) error {
		relay := tx.ReadWriteBucket(relayBucket)
		if relay == nil {
			return ErrNoRelayBucket
		}

		for _, edge := range edges {
			rec, err := fetchOutpointRecord(relay, &edge.Prevout)
			if err == ErrOutpointNotFound {
				continue
			}
			if err != nil {
				return err
			}
			if rec.Nextout != edge.Nextout {
				continue
			}

			rec.Nextout = zeroOutPoint
			if err := storeOutpointRecord(relay, rec); err != nil {
				return err
			}
		}

		return nil
	}, func() {})
}

// updateSpendEdge sets the Nextout edge on the record stored under prevout,
// if one exists.
func updateSpendEdge(relay walletdb.ReadWriteBucket, prevout,
	nextout wire.OutPoint) error {

	rec, err := fetchOutpointRecord(relay, &prevout)
	if err == ErrOutpointNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if rec.Nextout == nextout {
		return nil
	}

	rec.Nextout = nextout

	return storeOutpointRecord(relay, rec)
}

// storeOutpointRecord writes a record verbatim, without union merging.
func storeOutpointRecord(relay walletdb.ReadWriteBucket,
	r *OutpointRecord) error {

	var b bytes.Buffer
	if err := serializeOutpointRecord(&b, r); err != nil {
		return err
	}

	return relay.Put(outpointRecordKey(&r.Prevout), b.Bytes())
}

package relaydb

import (
	"bytes"
	"crypto/sha256"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/walletdb"
)

// ScriptRecord is the reverse index entry from a watched scriptPubKey to the
// set of requests referencing it.
type ScriptRecord struct {
	// Hash is the sha256 of Script and doubles as the storage key.
	Hash chainhash.Hash

	// Script is the raw scriptPubKey being watched.
	Script []byte

	// Requests is the ordered, deduplicated set of request IDs
	// referencing the script. Persisted records always carry at least one
	// entry.
	Requests []RequestID
}

// NewScriptRecord builds a fresh record for the passed script referencing a
// single request.
func NewScriptRecord(script []byte, id RequestID) *ScriptRecord {
	return &ScriptRecord{
		Hash:     ScriptHash(script),
		Script:   script,
		Requests: []RequestID{id},
	}
}

// ScriptHash returns the sha256 digest of a raw script, the key under which
// its record is stored.
func ScriptHash(script []byte) chainhash.Hash {
	return chainhash.Hash(sha256.Sum256(script))
}

// addRequestID appends id to the set unless already present, reporting
// whether the set changed.
func addRequestID(ids []RequestID, id RequestID) ([]RequestID, bool) {
	for _, existing := range ids {
		if existing == id {
			return ids, false
		}
	}

	return append(ids, id), true
}

// serializeScriptRecord writes the value-level encoding of a script record.
// The hash lives in the key and is not serialized.
func serializeScriptRecord(w io.Writer, r *ScriptRecord) error {
	if err := writeRequestIDs(w, r.Requests); err != nil {
		return err
	}

	return writeVarBytes(w, r.Script)
}

// deserializeScriptRecord reads a script record payload back. The hash is
// supplied by the caller from the key rather than re-derived from the
// payload.
func deserializeScriptRecord(r io.Reader,
	hash chainhash.Hash) (*ScriptRecord, error) {

	ids, err := readRequestIDs(r)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrEmptyFanOut
	}

	script, err := readVarBytes(r)
	if err != nil {
		return nil, err
	}

	return &ScriptRecord{
		Hash:     hash,
		Script:   script,
		Requests: ids,
	}, nil
}

// putScriptRecord merges the passed record into the bucket with union
// semantics: when a record already exists under the same script hash, its
// request set is extended with the new record's IDs. The merged record as
// stored is returned. Re-supplying a (script, id) pair already present is a
// no-op.
func putScriptRecord(relay walletdb.ReadWriteBucket,
	r *ScriptRecord) (*ScriptRecord, error) {

	key := scriptRecordKey(&r.Hash)

	stored := r
	if rawRecord := relay.Get(key); rawRecord != nil {
		existing, err := deserializeScriptRecord(
			bytes.NewReader(rawRecord), r.Hash,
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
	if err := serializeScriptRecord(&b, stored); err != nil {
		return nil, err
	}
	if err := relay.Put(key, b.Bytes()); err != nil {
		return nil, err
	}

	return stored, nil
}

// fetchScriptRecord reads the script record stored under the given hash.
func fetchScriptRecord(relay walletdb.ReadBucket,
	hash *chainhash.Hash) (*ScriptRecord, error) {

	rawRecord := relay.Get(scriptRecordKey(hash))
	if rawRecord == nil {
		return nil, ErrScriptNotFound
	}

	return deserializeScriptRecord(bytes.NewReader(rawRecord), *hash)
}

// PutScriptRecord persists the passed record with union semantics and
// returns the merged record as stored.
func (d *DB) PutScriptRecord(r *ScriptRecord) (*ScriptRecord, error) {
	var stored *ScriptRecord
	err := d.Update(func(tx walletdb.ReadWriteTx) error {
		relay := tx.ReadWriteBucket(relayBucket)
		if relay == nil {
			return ErrNoRelayBucket
		}

		var err error
		stored, err = putScriptRecord(relay, r)

		return err
	}, func() { stored = nil })
	if err != nil {
		return nil, err
	}

	return stored, nil
}

// FetchScriptRecord returns the record stored under the given script hash,
// or ErrScriptNotFound if the script is not watched.
func (d *DB) FetchScriptRecord(hash *chainhash.Hash) (*ScriptRecord, error) {
	var rec *ScriptRecord
	err := d.View(func(tx walletdb.ReadTx) error {
		relay := tx.ReadBucket(relayBucket)
		if relay == nil {
			return ErrNoRelayBucket
		}

		var err error
		rec, err = fetchScriptRecord(relay, hash)

		return err
	}, func() { rec = nil })
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// HasScript reports whether a record exists for the given script hash.
func (d *DB) HasScript(hash *chainhash.Hash) (bool, error) {
	_, err := d.FetchScriptRecord(hash)
	switch {
	case err == nil:
		return true, nil
	case err == ErrScriptNotFound:
		return false, nil
	default:
		return false, err
	}
}

// DeleteScriptRecord removes the record stored under the given script hash.
func (d *DB) DeleteScriptRecord(hash *chainhash.Hash) error {
	return d.Update(func(tx walletdb.ReadWriteTx) error {
		relay := tx.ReadWriteBucket(relayBucket)
		if relay == nil {
			return ErrNoRelayBucket
		}

		return relay.Delete(scriptRecordKey(hash))
	}, func() {})
}

// ForEachScriptRecord invokes f for every stored script record in ascending
// script hash order.
func (d *DB) ForEachScriptRecord(f func(*ScriptRecord) error) error {
	return d.View(func(tx walletdb.ReadTx) error {
		relay := tx.ReadBucket(relayBucket)
		if relay == nil {
			return ErrNoRelayBucket
		}

		return forEachPrefix(relay, scriptPrefix, func(k, v []byte) error {
			if len(k) != chainhash.HashSize {
				return ErrScriptNotFound
			}

			var hash chainhash.Hash
			copy(hash[:], k)

			rec, err := deserializeScriptRecord(
				bytes.NewReader(v), hash,
			)
			if err != nil {
				return err
			}

			return f(rec)
		})
	}, func() {})
}

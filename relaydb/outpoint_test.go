package relaydb

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// TestOutpointKey asserts the canonical key layout: txid followed by the
// big-endian index.
func TestOutpointKey(t *testing.T) {
	t.Parallel()

	op := testOutPoint(0xab, 0x01020304)
	key := OutpointKey(&op)

	require.Len(t, key, 36)
	require.Equal(t, op.Hash[:], key[:32])
	require.Equal(t, uint32(0x01020304), binary.BigEndian.Uint32(key[32:]))

	var decoded wire.OutPoint
	require.NoError(t, outpointFromKey(key, &decoded))
	require.Equal(t, op, decoded)
}

// TestOutpointRecordSerialization asserts the value encoding round-trips
// byte-identically.
func TestOutpointRecordSerialization(t *testing.T) {
	t.Parallel()

	rec := &OutpointRecord{
		Prevout:  testOutPoint(0x01, 0),
		Nextout:  testOutPoint(0x02, 1),
		Requests: []RequestID{testID(0x03)},
	}

	var b bytes.Buffer
	require.NoError(t, serializeOutpointRecord(&b, rec))

	first := b.Bytes()
	decoded, err := deserializeOutpointRecord(
		bytes.NewReader(first), rec.Prevout,
	)
	require.NoError(t, err)
	require.Equal(t, rec, decoded)

	var again bytes.Buffer
	require.NoError(t, serializeOutpointRecord(&again, decoded))
	require.Equal(t, first, again.Bytes())
}

// TestOutpointRecordUnion asserts puts under the same prevout merge request
// sets idempotently and keep the recorded spend edge.
func TestOutpointRecordUnion(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	prevout := testOutPoint(0x01, 3)
	id1, id2 := testID(0x01), testID(0x02)

	_, err := db.PutOutpointRecord(NewOutpointRecord(prevout, id1))
	require.NoError(t, err)

	// Record a spend edge, then extend the request set; the edge must
	// survive the merge.
	nextout := testOutPoint(0x02, 0)
	err = db.PutSpendEdges([]SpendEdge{{Prevout: prevout, Nextout: nextout}})
	require.NoError(t, err)

	merged, err := db.PutOutpointRecord(NewOutpointRecord(prevout, id2))
	require.NoError(t, err)
	require.ElementsMatch(t, []RequestID{id1, id2}, merged.Requests)
	require.Equal(t, nextout, merged.Nextout)

	// Idempotence.
	merged, err = db.PutOutpointRecord(NewOutpointRecord(prevout, id1))
	require.NoError(t, err)
	require.Len(t, merged.Requests, 2)
}

// TestSpendEdges exercises recording and unwinding spend evidence.
func TestSpendEdges(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	prevout := testOutPoint(0x01, 0)
	nextout := testOutPoint(0x02, 5)

	_, err := db.PutOutpointRecord(NewOutpointRecord(prevout, testID(0x01)))
	require.NoError(t, err)

	// Edges for unwatched outpoints are skipped without error.
	unwatched := testOutPoint(0x09, 9)
	err = db.PutSpendEdges([]SpendEdge{
		{Prevout: prevout, Nextout: nextout},
		{Prevout: unwatched, Nextout: nextout},
	})
	require.NoError(t, err)

	rec, err := db.FetchOutpointRecord(&prevout)
	require.NoError(t, err)
	require.True(t, rec.Spent())
	require.Equal(t, nextout, rec.Nextout)

	// Clearing with a mismatched edge leaves the record alone.
	other := testOutPoint(0x03, 0)
	err = db.ClearSpendEdges([]SpendEdge{{Prevout: prevout, Nextout: other}})
	require.NoError(t, err)

	rec, err = db.FetchOutpointRecord(&prevout)
	require.NoError(t, err)
	require.True(t, rec.Spent())

	// Clearing the matching edge resets it to the zero outpoint.
	err = db.ClearSpendEdges([]SpendEdge{{Prevout: prevout, Nextout: nextout}})
	require.NoError(t, err)

	rec, err = db.FetchOutpointRecord(&prevout)
	require.NoError(t, err)
	require.False(t, rec.Spent())
}

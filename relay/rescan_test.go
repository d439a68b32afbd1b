package relay

import (
	"context"
	"testing"

	"github.com/btcsuite/btcrelay/relaydb"
	"github.com/stretchr/testify/require"
)

// TestRescanParity asserts replaying the same history twice yields the same
// events both times.
func TestRescanParity(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	client := h.subscribe(t)

	script := testScript(0x21)
	prevout := testOutPoint(0xbb, 0)

	req1 := &relaydb.Request{ID: testID(0x01), Pays: script}
	req2 := &relaydb.Request{ID: testID(0x02), Spends: prevout}
	for _, req := range []*relaydb.Request{req1, req2} {
		_, _, _, err := h.relay.AddRequest(req)
		require.NoError(t, err)
	}

	// Three blocks: a payment, an unrelated block, a spend.
	h.chain.addBlock(payTx(script, 0xe0))
	h.chain.addBlock(payTx(testScript(0x5f), 0xe1))
	h.chain.addBlock(spendTx(prevout, 0xe2))

	collect := func() []*SatisfiedEvent {
		require.NoError(t, h.relay.Rescan(context.Background(), 0))

		var events []*SatisfiedEvent
		events = append(events, nextEvent(t, client))
		events = append(events, nextEvent(t, client))
		assertNoEvent(t, client)

		return events
	}

	first := collect()
	second := collect()

	require.Equal(t, len(first), len(second))
	for i := range first {
		require.Equal(t, first[i].TxHash, second[i].TxHash)
		require.Equal(t, first[i].Height, second[i].Height)
		require.Equal(t, first[i].Satisfied, second[i].Satisfied)
	}

	require.Equal(t, []relaydb.RequestID{req1.ID}, first[0].Satisfied)
	require.Equal(t, []relaydb.RequestID{req2.ID}, first[1].Satisfied)
}

// TestRescanTargeted asserts a rescan scoped to one request's keys does not
// re-notify historical matches of other requests.
func TestRescanTargeted(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)

	scriptOld := testScript(0x31)
	reqOld := &relaydb.Request{ID: testID(0x01), Pays: scriptOld}
	_, _, _, err := h.relay.AddRequest(reqOld)
	require.NoError(t, err)

	// History contains matches for both the old and the new request.
	scriptNew := testScript(0x32)
	h.chain.addBlock(payTx(scriptOld, 0xe0))
	newTx := payTx(scriptNew, 0xe1)
	h.chain.addBlock(newTx)

	reqNew := &relaydb.Request{ID: testID(0x02), Pays: scriptNew}
	_, _, _, err = h.relay.AddRequest(reqNew)
	require.NoError(t, err)

	client := h.subscribe(t)
	err = h.relay.RescanRequest(context.Background(), reqNew, 0)
	require.NoError(t, err)

	event := nextEvent(t, client)
	require.Equal(t, newTx.TxHash(), event.TxHash)
	require.Equal(t, []relaydb.RequestID{reqNew.ID}, event.Satisfied)
	assertNoEvent(t, client)
}

// TestRescanCancellation asserts an already cancelled context stops the scan
// at the first block boundary.
func TestRescanCancellation(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.chain.addBlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.relay.Rescan(ctx, 0)
	require.ErrorIs(t, err, context.Canceled)
}

// TestRescanWithoutChain asserts the driver refuses to run without a chain
// source.
func TestRescanWithoutChain(t *testing.T) {
	t.Parallel()

	db, err := relaydb.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	r, err := New(&Config{DB: db, Events: NewEventServer()})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	t.Cleanup(func() { r.Stop() })

	err = r.Rescan(context.Background(), 0)
	require.ErrorIs(t, err, ErrNoChainSource)
}

package relay

import (
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcrelay/relaydb"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

// testTime pins the clock used for request timestamps.
var testTime = time.Unix(1700000000, 0)

// eventTimeout bounds how long tests wait on asynchronous event delivery.
const eventTimeout = 5 * time.Second

// mockChain is an in-memory main chain the rescan driver can replay.
type mockChain struct {
	blocks []*wire.MsgBlock
}

func (c *mockChain) BestBlock() (*BlockMeta, error) {
	if len(c.blocks) == 0 {
		return nil, errors.New("empty chain")
	}

	tip := c.blocks[len(c.blocks)-1]

	return &BlockMeta{
		Hash:   tip.BlockHash(),
		Height: uint32(len(c.blocks) - 1),
	}, nil
}

func (c *mockChain) GetBlockHash(height uint32) (*chainhash.Hash, error) {
	if height >= uint32(len(c.blocks)) {
		return nil, errors.New("height out of range")
	}

	hash := c.blocks[height].BlockHash()

	return &hash, nil
}

func (c *mockChain) GetBlock(hash *chainhash.Hash) (*wire.MsgBlock, error) {
	for _, block := range c.blocks {
		if block.BlockHash() == *hash {
			return block, nil
		}
	}

	return nil, errors.New("block not found")
}

// addBlock appends a block carrying the passed transactions to the chain and
// returns its meta along with the wrapped block.
func (c *mockChain) addBlock(txs ...*wire.MsgTx) (*BlockMeta, *btcutil.Block) {
	header := wire.BlockHeader{
		Version:   1,
		Timestamp: testTime.Add(time.Duration(len(c.blocks)) * 10 * time.Minute),
		Bits:      0x1d00ffff,
		Nonce:     uint32(len(c.blocks)),
	}
	if len(c.blocks) > 0 {
		header.PrevBlock = c.blocks[len(c.blocks)-1].BlockHash()
	}

	msgBlock := &wire.MsgBlock{Header: header}
	for _, tx := range txs {
		msgBlock.AddTransaction(tx)
	}

	c.blocks = append(c.blocks, msgBlock)

	height := uint32(len(c.blocks) - 1)
	meta := &BlockMeta{Hash: msgBlock.BlockHash(), Height: height}

	block := btcutil.NewBlock(msgBlock)
	block.SetHeight(int32(height))

	return meta, block
}

// testHarness couples a started relay with its collaborators.
type testHarness struct {
	relay  *Relay
	db     *relaydb.DB
	chain  *mockChain
	events *EventServer
}

// newTestHarness spins up a relay over a fresh database and mock chain, torn
// down with the test.
func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	db, err := relaydb.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	chain := &mockChain{}
	events := NewEventServer()

	r, err := New(&Config{
		DB:     db,
		Chain:  chain,
		Events: events,
		Clock:  clock.NewTestClock(testTime),
	})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	t.Cleanup(func() { r.Stop() })

	return &testHarness{
		relay:  r,
		db:     db,
		chain:  chain,
		events: events,
	}
}

// subscribe registers an event client that is cancelled with the test.
func (h *testHarness) subscribe(t *testing.T) *EventClient {
	t.Helper()

	client, err := h.events.Subscribe()
	require.NoError(t, err)
	t.Cleanup(client.Cancel)

	return client
}

// nextEvent blocks for the next satisfied event on the client.
func nextEvent(t *testing.T, client *EventClient) *SatisfiedEvent {
	t.Helper()

	select {
	case update := <-client.Updates():
		event, ok := update.(*SatisfiedEvent)
		require.True(t, ok)

		return event

	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for satisfied event")

		return nil
	}
}

// assertNoEvent asserts no event arrives within a short grace period.
func assertNoEvent(t *testing.T, client *EventClient) {
	t.Helper()

	select {
	case update := <-client.Updates():
		t.Fatalf("unexpected event: %v", update)
	case <-time.After(100 * time.Millisecond):
	}
}

// testID builds a request ID from a repeating byte.
func testID(b byte) relaydb.RequestID {
	var id relaydb.RequestID
	for i := range id {
		id[i] = b
	}

	return id
}

// testOutPoint builds an outpoint with a hash of repeating bytes.
func testOutPoint(b byte, index uint32) wire.OutPoint {
	var hash chainhash.Hash
	for i := range hash {
		hash[i] = b
	}

	return wire.OutPoint{Hash: hash, Index: index}
}

// testScript is a P2PKH-shaped script parameterized on one byte.
func testScript(b byte) []byte {
	return []byte{0x76, 0xa9, 0x14, b, 0x88, 0xac}
}

// spendTx builds a transaction spending the passed outpoint.
func spendTx(prevout wire.OutPoint, salt byte) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&prevout, nil, nil))
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x6a, salt}))

	return tx
}

// payTx builds a transaction with one output locked by the passed script.
func payTx(script []byte, salt byte) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	prevout := testOutPoint(salt, 0)
	tx.AddTxIn(wire.NewTxIn(&prevout, nil, nil))
	tx.AddTxOut(wire.NewTxOut(2000, script))

	return tx
}

package relayhttp

import (
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcrelay/relay"
	"github.com/btcsuite/btcrelay/relaydb"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// newBlock wraps a wire block for the indexer entry points.
func newBlock(msgBlock *wire.MsgBlock, height uint32) *btcutil.Block {
	block := btcutil.NewBlock(msgBlock)
	block.SetHeight(int32(height))

	return block
}

// dialWS connects a websocket client to the test server.
func dialWS(t *testing.T, h *testHarness) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	return conn
}

// readAck reads the next ack frame.
func readAck(t *testing.T, conn *websocket.Conn) wsAck {
	t.Helper()

	var ack wsAck
	require.NoError(t, conn.ReadJSON(&ack))

	return ack
}

// TestWebsocketWatchFlow walks auth, watch, event delivery and unwatch.
func TestWebsocketWatchFlow(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, "ws-secret")

	// The HTTP upgrade itself is exempt from header auth; the socket
	// authenticates in-band.
	conn := dialWS(t, h)

	// Watching before auth terminates the connection.
	require.NoError(t, conn.WriteJSON(wsRequest{
		Type: msgTypeWatch, Topic: relayTopic,
	}))
	ack := readAck(t, conn)
	require.False(t, ack.OK)

	// Fresh connection: authenticate, then watch.
	conn = dialWS(t, h)
	require.NoError(t, conn.WriteJSON(wsRequest{
		Type: msgTypeAuth, Key: "ws-secret",
	}))
	ack = readAck(t, conn)
	require.True(t, ack.OK)

	require.NoError(t, conn.WriteJSON(wsRequest{
		Type: msgTypeWatch, Topic: relayTopic,
	}))
	ack = readAck(t, conn)
	require.True(t, ack.OK)

	// Store a request and connect a matching block.
	script := []byte{0x76, 0xa9, 0x14, 0xab, 0x88, 0xac}
	req := &relaydb.Request{ID: relaydb.RequestID{0x01}, Pays: script}
	_, _, _, err := h.relay.AddRequest(req)
	require.NoError(t, err)

	tx := wire.NewMsgTx(wire.TxVersion)
	prevout := wire.OutPoint{Index: 0xffffffff}
	tx.AddTxIn(wire.NewTxIn(&prevout, nil, nil))
	tx.AddTxOut(wire.NewTxOut(1200, script))
	h.chain.addBlock(tx)

	meta, err := h.chain.BestBlock()
	require.NoError(t, err)

	block, err := h.chain.GetBlock(&meta.Hash)
	require.NoError(t, err)

	wrapped := relay.BlockMeta{Hash: meta.Hash, Height: meta.Height}
	err = h.relay.OnBlockConnected(&wrapped, newBlock(block, meta.Height))
	require.NoError(t, err)

	var event satisfiedEventJSON
	require.NoError(t, conn.ReadJSON(&event))
	require.Equal(t, eventTypeSatisfied, event.Type)
	require.Equal(t, tx.TxHash().String(), event.TxID)
	require.Equal(t, meta.Height, event.Height)
	require.Equal(t, []string{idToWire(req.ID)}, event.Satisfied)

	// Unwatch and verify silence for the next matching block.
	require.NoError(t, conn.WriteJSON(wsRequest{
		Type: msgTypeUnwatch, Topic: relayTopic,
	}))
	ack = readAck(t, conn)
	require.True(t, ack.OK)

	h.chain.addBlock(tx)
	meta, err = h.chain.BestBlock()
	require.NoError(t, err)
	block, err = h.chain.GetBlock(&meta.Hash)
	require.NoError(t, err)
	wrapped = relay.BlockMeta{Hash: meta.Hash, Height: meta.Height}
	err = h.relay.OnBlockConnected(&wrapped, newBlock(block, meta.Height))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var stray satisfiedEventJSON
	require.Error(t, conn.ReadJSON(&stray))
}

// TestWebsocketBadKey asserts a wrong in-band key closes the session.
func TestWebsocketBadKey(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, "ws-secret")

	conn := dialWS(t, h)
	require.NoError(t, conn.WriteJSON(wsRequest{
		Type: msgTypeAuth, Key: "wrong",
	}))

	ack := readAck(t, conn)
	require.False(t, ack.OK)

	// The server hangs up after a failed auth.
	conn.SetReadDeadline(time.Now().Add(time.Second))
	var frame wsAck
	require.Error(t, conn.ReadJSON(&frame))
}

// TestWebsocketNoAuthConfigured asserts watching works without auth when no
// key is configured.
func TestWebsocketNoAuthConfigured(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, "")

	conn := dialWS(t, h)
	require.NoError(t, conn.WriteJSON(wsRequest{
		Type: msgTypeWatch, Topic: relayTopic,
	}))

	ack := readAck(t, conn)
	require.True(t, ack.OK)
}

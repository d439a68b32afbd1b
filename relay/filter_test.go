package relay

import (
	"testing"

	"github.com/btcsuite/btcrelay/relaydb"
	"github.com/stretchr/testify/require"
)

// TestFilterAddTest asserts membership basics: added items test true,
// unknown items (overwhelmingly) test false.
func TestFilterAddTest(t *testing.T) {
	t.Parallel()

	f := NewFilter(nil)

	item := []byte("watched-script-bytes")
	require.False(t, f.Test(item))

	f.Add(item)
	require.True(t, f.Test(item))

	f.Reset()
	require.False(t, f.Test(item))
}

// TestFilterConfig asserts a filter built with custom parameters reports an
// added item as a member.
func TestFilterConfig(t *testing.T) {
	t.Parallel()

	f := NewFilter(&FilterConfig{Capacity: 100, FPRate: 0.01})

	item := []byte{0x01, 0x02}
	f.Add(item)
	require.True(t, f.Test(item))
}

// TestFilterReload asserts the filter safety property: after a reload,
// every persisted script and outpoint key tests positive.
func TestFilterReload(t *testing.T) {
	t.Parallel()

	db, err := relaydb.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var (
		scripts   [][]byte
		outpoints [][]byte
	)
	for b := byte(0x01); b <= 0x20; b++ {
		script := testScript(b)
		_, err := db.PutScriptRecord(
			relaydb.NewScriptRecord(script, testID(b)),
		)
		require.NoError(t, err)
		scripts = append(scripts, script)

		prevout := testOutPoint(b, uint32(b))
		_, err = db.PutOutpointRecord(
			relaydb.NewOutpointRecord(prevout, testID(b)),
		)
		require.NoError(t, err)
		outpoints = append(outpoints, relaydb.OutpointKey(&prevout))
	}

	f := NewFilter(nil)
	require.NoError(t, f.Reload(db))

	for _, script := range scripts {
		require.True(t, f.Test(script))
	}
	for _, key := range outpoints {
		require.True(t, f.Test(key))
	}
}

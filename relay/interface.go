package relay

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// BlockMeta couples a block's hash with the height it was connected at.
type BlockMeta struct {
	// Hash is the block's hash.
	Hash chainhash.Hash

	// Height is the block's height in the main chain.
	Height uint32
}

// ChainSource abstracts the host node's view of the main chain. The relay
// only ever reads from it; the node owns the chain state and is assumed safe
// for concurrent use.
type ChainSource interface {
	// BestBlock returns the meta data of the current chain tip.
	BestBlock() (*BlockMeta, error)

	// GetBlockHash returns the hash of the main chain block at the given
	// height.
	GetBlockHash(height uint32) (*chainhash.Hash, error)

	// GetBlock returns the full block with the given hash.
	GetBlock(hash *chainhash.Hash) (*wire.MsgBlock, error)
}

// BlockIndexer is implemented by consumers of the node's block connect and
// disconnect events. The host registers the relay under this interface and
// drives it as the main chain advances.
type BlockIndexer interface {
	// OnBlockConnected is invoked when a block extends the main chain.
	OnBlockConnected(meta *BlockMeta, block *btcutil.Block) error

	// OnBlockDisconnected is invoked when a block is removed from the
	// main chain during a reorganization.
	OnBlockDisconnected(meta *BlockMeta, block *btcutil.Block) error
}

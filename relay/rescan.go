package relay

import (
	"bytes"
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcrelay/relaydb"
)

// Rescan replays every main chain block from fromHeight through the current
// tip through the match engine, using the live filter as the membership
// pre-check. Events fire exactly as they would have during live ingest. The
// context is honored at block boundaries.
func (r *Relay) Rescan(ctx context.Context, fromHeight uint32) error {
	return r.RescanWith(ctx, fromHeight, nil)
}

// RescanWith is Rescan with a caller-supplied membership predicate replacing
// the live filter for the duration of the scan. A predicate limited to a
// single request's keys replays history for just that request without
// re-notifying historical matches of unrelated requests.
func (r *Relay) RescanWith(ctx context.Context, fromHeight uint32,
	has func([]byte) bool) error {

	chain := r.cfg.Chain
	if chain == nil {
		return ErrNoChainSource
	}

	best, err := chain.BestBlock()
	if err != nil {
		return err
	}

	log.Infof("Rescanning heights %d through %d", fromHeight, best.Height)

	for height := fromHeight; height <= best.Height; height++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.quit:
			return ErrRelayShuttingDown
		default:
		}

		hash, err := chain.GetBlockHash(height)
		if err != nil {
			return err
		}
		msgBlock, err := chain.GetBlock(hash)
		if err != nil {
			return err
		}

		meta := &BlockMeta{Hash: *hash, Height: height}
		block := btcutil.NewBlock(msgBlock)
		block.SetHeight(int32(height))

		if err := r.scanBlock(meta, block, has); err != nil {
			return err
		}
	}

	return nil
}

// RescanRequest replays history from fromHeight with a membership predicate
// covering only the passed request's keys, so only its own historical
// matches notify.
func (r *Relay) RescanRequest(ctx context.Context, req *relaydb.Request,
	fromHeight uint32) error {

	var opKey []byte
	if req.HasSpends() {
		opKey = relaydb.OutpointKey(&req.Spends)
	}

	return r.RescanWith(ctx, fromHeight, func(item []byte) bool {
		if opKey != nil && bytes.Equal(item, opKey) {
			return true
		}

		return req.HasPays() && bytes.Equal(item, req.Pays)
	})
}

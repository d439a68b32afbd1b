package relay

import (
	"bytes"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcrelay/relaydb"
)

// Compile-time check that the relay can be registered as a block indexer.
var _ BlockIndexer = (*Relay)(nil)

// OnBlockConnected scans a newly connected block for transactions satisfying
// watched requests and publishes one event per satisfying transaction. Spends
// of watched outpoints additionally record the spending edge on the outpoint
// record.
func (r *Relay) OnBlockConnected(meta *BlockMeta, block *btcutil.Block) error {
	return r.scanBlock(meta, block, nil)
}

// scanBlock runs a block through the match engine. The has predicate
// overrides the membership pre-check; nil selects the live filter. Lookup
// and decode failures on individual records are logged and treated as
// non-matches so one bad record cannot halt ingest.
func (r *Relay) scanBlock(meta *BlockMeta, block *btcutil.Block,
	has func([]byte) bool) error {

	if has == nil {
		has = r.filter.Test
	}

	var edges []relaydb.SpendEdge

	for _, tx := range block.Transactions() {
		satisfied := r.scanTx(tx, has, &edges)
		if len(satisfied) == 0 {
			continue
		}

		event := &SatisfiedEvent{
			TxHash:    *tx.Hash(),
			Height:    meta.Height,
			Satisfied: satisfied,
		}

		log.Debugf("Tx %v at height %d satisfied %d request(s)",
			event.TxHash, meta.Height, len(satisfied))

		if err := r.cfg.Events.SendUpdate(event); err != nil {
			return err
		}
		eventsSent.Inc()
	}

	// Record the spending evidence gathered across the block in one
	// transaction.
	if len(edges) > 0 {
		r.writeMtx.Lock()
		err := r.cfg.DB.PutSpendEdges(edges)
		r.writeMtx.Unlock()
		if err != nil {
			log.Errorf("Unable to record %d spend edge(s) from "+
				"block %v: %v", len(edges), meta.Hash, err)
		}
	}

	blocksScanned.Inc()

	return nil
}

// scanTx tests every input's previous outpoint and every output's script of
// a single transaction, returning the sorted set of request IDs the
// transaction satisfies. Watched spends are appended to edges.
func (r *Relay) scanTx(tx *btcutil.Tx, has func([]byte) bool,
	edges *[]relaydb.SpendEdge) []relaydb.RequestID {

	var (
		msgTx     = tx.MsgTx()
		satisfied = make(map[relaydb.RequestID]struct{})
	)

	// Inputs first: a spend of a watched outpoint.
	for i, txIn := range msgTx.TxIn {
		prevout := txIn.PreviousOutPoint
		if !has(relaydb.OutpointKey(&prevout)) {
			continue
		}
		filterHits.Inc()

		rec, err := r.cfg.DB.FetchOutpointRecord(&prevout)
		switch {
		case err == relaydb.ErrOutpointNotFound:
			falsePositives.Inc()
			continue

		case err != nil:
			log.Errorf("Unable to fetch outpoint record %v: %v",
				prevout, err)
			continue
		}

		matchesConfirmed.Inc()
		for _, id := range rec.Requests {
			satisfied[id] = struct{}{}
		}

		*edges = append(*edges, relaydb.SpendEdge{
			Prevout: prevout,
			Nextout: wire.OutPoint{
				Hash:  *tx.Hash(),
				Index: uint32(i),
			},
		})
	}

	// Then outputs: a new output paying to a watched script.
	for _, txOut := range msgTx.TxOut {
		script := txOut.PkScript
		if !has(script) {
			continue
		}
		filterHits.Inc()

		hash := relaydb.ScriptHash(script)
		rec, err := r.cfg.DB.FetchScriptRecord(&hash)
		switch {
		case err == relaydb.ErrScriptNotFound:
			falsePositives.Inc()
			continue

		case err != nil:
			log.Errorf("Unable to fetch script record %v: %v",
				hash, err)
			continue
		}

		matchesConfirmed.Inc()
		for _, id := range rec.Requests {
			satisfied[id] = struct{}{}
		}
	}

	if len(satisfied) == 0 {
		return nil
	}

	ids := make([]relaydb.RequestID, 0, len(satisfied))
	for id := range satisfied {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})

	return ids
}

// OnBlockDisconnected unwinds the spending edges recorded from a block that
// was removed from the main chain. Events already delivered for the block
// are not retracted; a later block independently satisfying the same
// requests emits fresh events.
func (r *Relay) OnBlockDisconnected(meta *BlockMeta,
	block *btcutil.Block) error {

	var edges []relaydb.SpendEdge
	for _, tx := range block.Transactions() {
		for i, txIn := range tx.MsgTx().TxIn {
			edges = append(edges, relaydb.SpendEdge{
				Prevout: txIn.PreviousOutPoint,
				Nextout: wire.OutPoint{
					Hash:  *tx.Hash(),
					Index: uint32(i),
				},
			})
		}
	}

	if len(edges) == 0 {
		return nil
	}

	r.writeMtx.Lock()
	defer r.writeMtx.Unlock()

	if err := r.cfg.DB.ClearSpendEdges(edges); err != nil {
		return err
	}

	log.Debugf("Unwound spend edges for disconnected block %v at "+
		"height %d", meta.Hash, meta.Height)

	return nil
}

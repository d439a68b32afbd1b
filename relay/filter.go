package relay

import (
	"sync"

	"github.com/btcsuite/btcd/btcutil/bloom"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcrelay/relaydb"
)

const (
	// DefaultFilterCapacity is the number of watched items the filter is
	// sized for by default. Past this the false positive rate degrades,
	// costing extra database lookups but never correctness.
	DefaultFilterCapacity = 20000

	// DefaultFilterFPRate is the default false positive rate of the
	// filter.
	DefaultFilterFPRate = 0.001
)

// FilterConfig parameterizes the in-memory filter.
type FilterConfig struct {
	// Capacity is the number of items the filter is sized for.
	Capacity uint32

	// FPRate is the target false positive rate at Capacity.
	FPRate float64
}

// DefaultFilterConfig returns the default filter parameters.
func DefaultFilterConfig() *FilterConfig {
	return &FilterConfig{
		Capacity: DefaultFilterCapacity,
		FPRate:   DefaultFilterFPRate,
	}
}

// Filter is the probabilistic membership set consulted by the match engine
// before touching the database. It holds the union of every watched outpoint
// key and every watched raw script. Items are never removed individually;
// the filter is rebuilt wholesale from the database on load.
type Filter struct {
	mtx sync.RWMutex

	cfg    FilterConfig
	filter *bloom.Filter
}

// NewFilter creates an empty filter with the passed parameters, falling back
// to defaults for a nil config.
func NewFilter(cfg *FilterConfig) *Filter {
	if cfg == nil {
		cfg = DefaultFilterConfig()
	}

	return &Filter{
		cfg:    *cfg,
		filter: newBloomFilter(cfg),
	}
}

// newBloomFilter constructs the underlying bloom filter. A tweak of zero
// keeps rebuilds deterministic.
func newBloomFilter(cfg *FilterConfig) *bloom.Filter {
	return bloom.NewFilter(cfg.Capacity, 0, cfg.FPRate, wire.BloomUpdateNone)
}

// Add inserts an item into the filter.
func (f *Filter) Add(item []byte) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.filter.Add(item)
}

// AddOutpoint inserts the canonical key of an outpoint into the filter.
func (f *Filter) AddOutpoint(op *wire.OutPoint) {
	f.Add(relaydb.OutpointKey(op))
}

// Test reports whether an item is possibly a member of the filter. False
// positives occur at roughly the configured rate; false negatives never.
func (f *Filter) Test(item []byte) bool {
	f.mtx.RLock()
	defer f.mtx.RUnlock()

	return f.filter.Matches(item)
}

// Reset discards every item, returning the filter to its empty state.
func (f *Filter) Reset() {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.filter = newBloomFilter(&f.cfg)
}

// Reload rebuilds the filter from every script and outpoint record persisted
// in the database, discarding the prior contents.
func (f *Filter) Reload(db *relaydb.DB) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	filter := newBloomFilter(&f.cfg)

	var numScripts, numOutpoints int
	err := db.ForEachScriptRecord(func(r *relaydb.ScriptRecord) error {
		filter.Add(r.Script)
		numScripts++

		return nil
	})
	if err != nil {
		return err
	}

	err = db.ForEachOutpointRecord(func(r *relaydb.OutpointRecord) error {
		filter.Add(relaydb.OutpointKey(&r.Prevout))
		numOutpoints++

		return nil
	})
	if err != nil {
		return err
	}

	f.filter = filter

	log.Infof("Filter loaded with %d scripts and %d outpoints",
		numScripts, numOutpoints)

	return nil
}

package relay

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/btcrelay/relaydb"
	"github.com/lightningnetwork/lnd/clock"
)

var (
	// ErrRelayShuttingDown is returned when interacting with the relay
	// while it is shutting down.
	ErrRelayShuttingDown = errors.New("relay shutting down")

	// ErrNoChainSource is returned when an operation needs the chain but
	// the relay was built without a chain source.
	ErrNoChainSource = errors.New("no chain source configured")
)

// Config bundles the dependencies of the relay.
type Config struct {
	// DB is the persistent request and index store.
	DB *relaydb.DB

	// Chain is the host node's chain view. Optional; without it rescans
	// and chain info queries are unavailable.
	Chain ChainSource

	// Events receives the satisfied events produced by the match engine.
	Events *EventServer

	// Clock assigns request timestamps. Defaults to the wall clock.
	Clock clock.Clock

	// Filter overrides the default filter parameters.
	Filter *FilterConfig
}

// Relay couples the match engine, the request manager and the rescan driver
// around one database and one in-memory filter. Writes funnel through a
// single mutex; reads never take it.
type Relay struct {
	started uint32 // To be used atomically.
	stopped uint32 // To be used atomically.

	cfg    *Config
	filter *Filter

	// writeMtx serializes every mutation of the database and the filter:
	// request adds and deletes, wipes, and the spend edges recorded
	// during block ingest.
	writeMtx sync.Mutex

	quit chan struct{}
}

// New builds an unstarted relay from the passed config.
func New(cfg *Config) (*Relay, error) {
	if cfg.DB == nil {
		return nil, errors.New("relay requires a database")
	}
	if cfg.Events == nil {
		return nil, errors.New("relay requires an event server")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Relay{
		cfg:    cfg,
		filter: NewFilter(cfg.Filter),
		quit:   make(chan struct{}),
	}, nil
}

// Start loads the filter from the database and starts the event server. A
// second call is a no-op.
func (r *Relay) Start() error {
	if !atomic.CompareAndSwapUint32(&r.started, 0, 1) {
		return nil
	}

	log.Info("Relay starting")

	if err := r.cfg.Events.Start(); err != nil {
		return err
	}

	return r.filter.Reload(r.cfg.DB)
}

// Stop shuts the relay down. A second call is a no-op.
func (r *Relay) Stop() error {
	if !atomic.CompareAndSwapUint32(&r.stopped, 0, 1) {
		return nil
	}

	log.Info("Relay shutting down")

	close(r.quit)

	return r.cfg.Events.Stop()
}

// DB exposes the underlying store for read-path consumers such as the HTTP
// boundary.
func (r *Relay) DB() *relaydb.DB {
	return r.cfg.DB
}

// Chain exposes the configured chain source, which may be nil.
func (r *Relay) Chain() ChainSource {
	return r.cfg.Chain
}

// Events exposes the event server clients subscribe on.
func (r *Relay) Events() *EventServer {
	return r.cfg.Events
}

// Filter exposes the in-memory filter. Intended for diagnostics and tests.
func (r *Relay) Filter() *Filter {
	return r.filter
}

// AddRequest validates and persists a request along with its derived index
// entries, then advertises the new keys in the filter. The index writes
// commit atomically; the filter is only extended after the commit succeeds
// so it never advertises a record that is not on disk. The stored request
// and the merged index records are returned.
func (r *Relay) AddRequest(req *relaydb.Request) (*relaydb.Request,
	*relaydb.OutpointRecord, *relaydb.ScriptRecord, error) {

	if err := req.Validate(); err != nil {
		return nil, nil, nil, err
	}

	// The timestamp is assigned here, once, and frozen for the life of
	// the request.
	req.Timestamp = uint32(r.cfg.Clock.Now().Unix())

	r.writeMtx.Lock()
	defer r.writeMtx.Unlock()

	opRec, sRec, err := r.cfg.DB.AddRequest(req)
	if err != nil {
		return nil, nil, nil, err
	}

	if req.HasSpends() {
		r.filter.AddOutpoint(&req.Spends)
	}
	if req.HasPays() {
		r.filter.Add(req.Pays)
	}

	requestsAdded.Inc()

	log.Debugf("Added request %v (spends=%v, pays=%d bytes)", req.ID,
		req.HasSpends(), len(req.Pays))

	return req, opRec, sRec, nil
}

// DeleteRequest removes the request row stored under the given ID. The
// reverse index entries and the filter are left untouched; stale entries
// cost at most a confirming lookup on the ingest path.
func (r *Relay) DeleteRequest(id relaydb.RequestID) error {
	r.writeMtx.Lock()
	defer r.writeMtx.Unlock()

	return r.cfg.DB.DeleteRequest(id)
}

// Wipe atomically deletes every request, script record and outpoint record,
// then rebuilds the filter from the now-empty index so ingest immediately
// stops matching.
func (r *Relay) Wipe() error {
	r.writeMtx.Lock()
	defer r.writeMtx.Unlock()

	if err := r.cfg.DB.Wipe(); err != nil {
		return err
	}

	return r.filter.Reload(r.cfg.DB)
}

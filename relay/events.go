package relay

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcrelay/relaydb"
	"github.com/lightningnetwork/lnd/queue"
)

// ErrEventServerShuttingDown is returned when interacting with the event
// server while it is shutting down.
var ErrEventServerShuttingDown = errors.New("event server shutting down")

// SatisfiedEvent is emitted once per transaction that satisfies one or more
// requests, carrying every request ID the transaction satisfied.
type SatisfiedEvent struct {
	// TxHash is the hash of the satisfying transaction.
	TxHash chainhash.Hash

	// Height is the height of the block the transaction confirmed in.
	Height uint32

	// Satisfied is the sorted, deduplicated set of request IDs the
	// transaction satisfied.
	Satisfied []relaydb.RequestID
}

// EventClient is a handle on an active event subscription. Events are read
// from Updates; Cancel releases the subscription.
type EventClient struct {
	cancel func()

	updates *queue.ConcurrentQueue
	quit    chan struct{}
}

// Updates returns the channel satisfied events are delivered on. Items are
// always of type *SatisfiedEvent.
func (c *EventClient) Updates() <-chan interface{} {
	return c.updates.ChanOut()
}

// Quit is closed once the server stops delivering to this client.
func (c *EventClient) Quit() <-chan struct{} {
	return c.quit
}

// Cancel releases the subscription. It is safe to call more than once.
func (c *EventClient) Cancel() {
	c.cancel()
}

// EventServer fans satisfied events out to every subscribed client. Each
// client drains its own buffered queue, so a slow or stalled consumer never
// blocks the block ingest path publishing events.
type EventServer struct {
	clientCounter uint64 // To be used atomically.

	started uint32 // To be used atomically.
	stopped uint32 // To be used atomically.

	clients       map[uint64]*EventClient
	clientUpdates chan *clientUpdate

	events chan *SatisfiedEvent

	quit chan struct{}
	wg   sync.WaitGroup
}

// clientUpdate is an internal message to the event handler that either
// registers a new client or cancels an existing subscription.
type clientUpdate struct {
	cancel   bool
	clientID uint64
	client   *EventClient
}

// NewEventServer returns an unstarted event server.
func NewEventServer() *EventServer {
	return &EventServer{
		clients:       make(map[uint64]*EventClient),
		clientUpdates: make(chan *clientUpdate),
		events:        make(chan *SatisfiedEvent),
		quit:          make(chan struct{}),
	}
}

// Start launches the event handler, making the server ready to accept
// subscriptions and events.
func (s *EventServer) Start() error {
	if !atomic.CompareAndSwapUint32(&s.started, 0, 1) {
		return nil
	}

	s.wg.Add(1)
	go s.eventHandler()

	return nil
}

// Stop shuts the server down, cancelling every active subscription.
func (s *EventServer) Stop() error {
	if !atomic.CompareAndSwapUint32(&s.stopped, 0, 1) {
		return nil
	}

	close(s.quit)
	s.wg.Wait()

	return nil
}

// Subscribe registers a new client that will receive every event published
// from this point on.
func (s *EventServer) Subscribe() (*EventClient, error) {
	clientID := atomic.AddUint64(&s.clientCounter, 1)

	client := &EventClient{
		updates: queue.NewConcurrentQueue(20),
		quit:    make(chan struct{}),
	}
	client.cancel = func() {
		select {
		case s.clientUpdates <- &clientUpdate{
			cancel:   true,
			clientID: clientID,
		}:
		case <-s.quit:
		}
	}

	select {
	case s.clientUpdates <- &clientUpdate{
		clientID: clientID,
		client:   client,
	}:
	case <-s.quit:
		return nil, ErrEventServerShuttingDown
	}

	return client, nil
}

// SendUpdate publishes an event to every active client.
func (s *EventServer) SendUpdate(event *SatisfiedEvent) error {
	select {
	case s.events <- event:
		return nil
	case <-s.quit:
		return ErrEventServerShuttingDown
	}
}

// eventHandler is the main loop of the server, handling subscription churn
// and forwarding published events to the per-client queues.
//
// NOTE: MUST be run as a goroutine.
func (s *EventServer) eventHandler() {
	defer s.wg.Done()

	for {
		select {
		case update := <-s.clientUpdates:
			clientID := update.clientID

			if update.cancel {
				client, ok := s.clients[clientID]
				if ok {
					client.updates.Stop()
					close(client.quit)
					delete(s.clients, clientID)
				}

				continue
			}

			update.client.updates.Start()
			s.clients[clientID] = update.client

		case event := <-s.events:
			for _, client := range s.clients {
				select {
				case client.updates.ChanIn() <- event:
				case <-client.quit:
				case <-s.quit:
					return
				}
			}

		case <-s.quit:
			for _, client := range s.clients {
				client.updates.Stop()
				close(client.quit)
			}
			return
		}
	}
}

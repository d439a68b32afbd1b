package relayhttp

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcrelay/relay"
	"github.com/btcsuite/btcrelay/relaydb"
)

// Hashes and request IDs travel as display-endian hex on the wire, the
// textual convention of the wider Bitcoin ecosystem, while storage keeps the
// canonical internal byte order. chainhash performs the reversal in both
// directions.

// outpointJSON is the wire form of an outpoint.
type outpointJSON struct {
	Hash  string `json:"hash"`
	Index uint32 `json:"index"`
}

// requestJSON is the wire form of a request. Height rides along on PUT only,
// requesting a historical rescan from that height.
type requestJSON struct {
	ID        string        `json:"id"`
	Address   string        `json:"address"`
	Value     uint64        `json:"value"`
	Spends    *outpointJSON `json:"spends,omitempty"`
	Pays      string        `json:"pays,omitempty"`
	Timestamp uint32        `json:"timestamp,omitempty"`
	Height    *uint32       `json:"height,omitempty"`
}

// scriptRecordJSON is the wire form of a script record.
type scriptRecordJSON struct {
	Hash     string   `json:"hash"`
	Script   string   `json:"script"`
	Requests []string `json:"requests"`
}

// outpointRecordJSON is the wire form of an outpoint record. Nextout is null
// until a spend has been observed.
type outpointRecordJSON struct {
	Prevout  outpointJSON  `json:"prevout"`
	Nextout  *outpointJSON `json:"nextout"`
	Requests []string      `json:"requests"`
}

// infoJSON is the wire form of the relay status summary.
type infoJSON struct {
	Latest *string `json:"latest"`
	Height uint32  `json:"height"`
	Tip    *string `json:"tip"`
}

// putResponseJSON is the wire form of a successful request insert.
type putResponseJSON struct {
	Request  *requestJSON        `json:"request"`
	Outpoint *outpointRecordJSON `json:"outpoint"`
	Script   *scriptRecordJSON   `json:"script"`
	Rescan   bool                `json:"rescan"`
}

// satisfiedEventJSON is the wire form of a satisfied event pushed over the
// websocket.
type satisfiedEventJSON struct {
	Type      string   `json:"type"`
	TxID      string   `json:"txid"`
	Height    uint32   `json:"height"`
	Satisfied []string `json:"satisfied"`
}

// idToWire renders a request ID in display-endian hex.
func idToWire(id relaydb.RequestID) string {
	h := chainhash.Hash(id)

	return h.String()
}

// idFromWire parses a display-endian hex request ID.
func idFromWire(s string) (relaydb.RequestID, error) {
	var id relaydb.RequestID
	if len(s) != chainhash.MaxHashStringSize {
		return id, fmt.Errorf("invalid request id length %d", len(s))
	}

	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return id, err
	}

	return relaydb.RequestID(*h), nil
}

// hashFromWire parses a display-endian hex hash.
func hashFromWire(s string) (*chainhash.Hash, error) {
	if len(s) != chainhash.MaxHashStringSize {
		return nil, fmt.Errorf("invalid hash length %d", len(s))
	}

	return chainhash.NewHashFromStr(s)
}

// marshalOutpoint renders an outpoint with its hash in display-endian hex.
func marshalOutpoint(op *wire.OutPoint) outpointJSON {
	return outpointJSON{
		Hash:  op.Hash.String(),
		Index: op.Index,
	}
}

// unmarshalOutpoint parses the wire form of an outpoint.
func unmarshalOutpoint(in *outpointJSON) (wire.OutPoint, error) {
	hash, err := hashFromWire(in.Hash)
	if err != nil {
		return wire.OutPoint{}, err
	}

	return wire.OutPoint{Hash: *hash, Index: in.Index}, nil
}

// marshalRequest renders a stored request.
func marshalRequest(req *relaydb.Request) *requestJSON {
	out := &requestJSON{
		ID:        idToWire(req.ID),
		Address:   hex.EncodeToString(req.Address[:]),
		Value:     req.Value,
		Timestamp: req.Timestamp,
	}
	if req.HasSpends() {
		spends := marshalOutpoint(&req.Spends)
		out.Spends = &spends
	}
	if req.HasPays() {
		out.Pays = hex.EncodeToString(req.Pays)
	}

	return out
}

// unmarshalRequest parses and structurally validates a request body. The
// returned height pointer is non-nil when the client asked for a rescan.
func unmarshalRequest(in *requestJSON) (*relaydb.Request, *uint32, error) {
	req := &relaydb.Request{Value: in.Value}

	id, err := idFromWire(in.ID)
	if err != nil {
		return nil, nil, err
	}
	req.ID = id

	addr, err := hex.DecodeString(in.Address)
	if err != nil {
		return nil, nil, err
	}
	if len(addr) != relaydb.AddressSize {
		return nil, nil, fmt.Errorf("invalid address length %d",
			len(addr))
	}
	copy(req.Address[:], addr)

	if in.Spends != nil {
		req.Spends, err = unmarshalOutpoint(in.Spends)
		if err != nil {
			return nil, nil, err
		}
	}

	if in.Pays != "" {
		req.Pays, err = hex.DecodeString(in.Pays)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := req.Validate(); err != nil {
		return nil, nil, err
	}

	return req, in.Height, nil
}

// marshalScriptRecord renders a script record.
func marshalScriptRecord(rec *relaydb.ScriptRecord) *scriptRecordJSON {
	out := &scriptRecordJSON{
		Hash:     rec.Hash.String(),
		Script:   hex.EncodeToString(rec.Script),
		Requests: make([]string, 0, len(rec.Requests)),
	}
	for _, id := range rec.Requests {
		out.Requests = append(out.Requests, idToWire(id))
	}

	return out
}

// marshalOutpointRecord renders an outpoint record.
func marshalOutpointRecord(rec *relaydb.OutpointRecord) *outpointRecordJSON {
	out := &outpointRecordJSON{
		Prevout:  marshalOutpoint(&rec.Prevout),
		Requests: make([]string, 0, len(rec.Requests)),
	}
	if rec.Spent() {
		nextout := marshalOutpoint(&rec.Nextout)
		out.Nextout = &nextout
	}
	for _, id := range rec.Requests {
		out.Requests = append(out.Requests, idToWire(id))
	}

	return out
}

// marshalEvent renders a satisfied event for websocket delivery.
func marshalEvent(event *relay.SatisfiedEvent) *satisfiedEventJSON {
	out := &satisfiedEventJSON{
		Type:      eventTypeSatisfied,
		TxID:      event.TxHash.String(),
		Height:    event.Height,
		Satisfied: make([]string, 0, len(event.Satisfied)),
	}
	for _, id := range event.Satisfied {
		out.Satisfied = append(out.Satisfied, idToWire(id))
	}

	return out
}

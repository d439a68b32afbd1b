package relaydb

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

var (
	// ErrNoRelayBucket is returned when the top level relay namespace
	// bucket is missing from the database. This should never happen for a
	// database that was initialized by Open.
	ErrNoRelayBucket = errors.New("relay bucket does not exist")

	// ErrRequestNotFound is returned when a request lookup by ID comes up
	// empty.
	ErrRequestNotFound = errors.New("request not found")

	// ErrScriptNotFound is returned when no script record exists for the
	// queried script hash.
	ErrScriptNotFound = errors.New("script record not found")

	// ErrOutpointNotFound is returned when no outpoint record exists for
	// the queried previous outpoint.
	ErrOutpointNotFound = errors.New("outpoint record not found")

	// ErrNoCriteria is returned when a request declares neither an
	// outpoint to watch for a spend of, nor a script to watch for new
	// outputs paying to.
	ErrNoCriteria = errors.New("request must specify spends and/or pays")

	// ErrScriptTooLarge is returned when a request's pays script exceeds
	// the consensus maximum script size.
	ErrScriptTooLarge = fmt.Errorf("script exceeds %d bytes",
		txscript.MaxScriptSize)

	// ErrEmptyFanOut is returned when decoding a stored script or
	// outpoint record whose request set is empty. Persisted records must
	// reference at least one request.
	ErrEmptyFanOut = errors.New("stored record has empty request set")

	// ErrDBReversion is returned when detecting an attempt to revert to a
	// prior database version.
	ErrDBReversion = errors.New("cannot revert to prior database version")
)

package relaydb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb" // Register the bolt driver.
)

const (
	dbName           = "relay.db"
	dbType           = "bdb"
	dbFilePermission = 0600

	// latestDBVersion is the current schema version. It is stored under
	// the version key and checked on every Open.
	latestDBVersion = 1
)

var (
	// relayBucket is the top level bucket that carries the whole relay
	// key space. The single byte prefixes below partition it, which keeps
	// the layout compatible with host nodes that co-locate several
	// indexers inside one namespace.
	relayBucket = []byte("relay")

	// scriptPrefix prefixes keys mapping a script hash to the script
	// record referencing it.
	scriptPrefix = []byte("s")

	// outpointPrefix prefixes keys mapping a previous outpoint to the
	// outpoint record referencing it.
	outpointPrefix = []byte("o")

	// requestPrefix prefixes keys mapping a request ID to the stored
	// request.
	requestPrefix = []byte("i")

	// versionKey houses the schema version of the database.
	versionKey = []byte("V")

	// byteOrder is the ordering used for all integer record fields. Keys
	// deviate where noted to preserve lexicographic ordering.
	byteOrder = binary.LittleEndian
)

// Options holds the optional parameters of Open.
type Options struct {
	// NoFreelistSync skips syncing the bolt freelist to disk, trading
	// slower reopens for faster writes.
	NoFreelistSync bool

	// DBTimeout is how long to wait on the database file lock.
	DBTimeout time.Duration
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		NoFreelistSync: true,
		DBTimeout:      time.Second * 60,
	}
}

// OptionModifier mutates the default options.
type OptionModifier func(*Options)

// OptionNoFreelistSync sets whether the freelist is synced on write.
func OptionNoFreelistSync(b bool) OptionModifier {
	return func(o *Options) {
		o.NoFreelistSync = b
	}
}

// OptionDBTimeout sets the database file lock timeout.
func OptionDBTimeout(timeout time.Duration) OptionModifier {
	return func(o *Options) {
		o.DBTimeout = timeout
	}
}

// DB is the persistent store of the relay. It houses every request along
// with the reverse indices from watched script hashes and outpoints back to
// the requests referencing them.
type DB struct {
	walletdb.DB

	dbPath string
}

// Open opens an existing relay database at the target path, creating and
// initializing a fresh one if none exists yet.
func Open(dbPath string, modifiers ...OptionModifier) (*DB, error) {
	opts := DefaultOptions()
	for _, modifier := range modifiers {
		modifier(&opts)
	}

	path := filepath.Join(dbPath, dbName)
	if !fileExists(path) {
		if err := initDB(dbPath, &opts); err != nil {
			return nil, err
		}
	}

	bdb, err := walletdb.Open(
		dbType, path, opts.NoFreelistSync, opts.DBTimeout, false,
	)
	if err != nil {
		return nil, err
	}

	db := &DB{
		DB:     bdb,
		dbPath: dbPath,
	}

	if err := db.checkVersion(); err != nil {
		bdb.Close()
		return nil, err
	}

	return db, nil
}

// initDB creates the database file and writes out the initial bucket
// structure along with the current schema version.
func initDB(dbPath string, opts *Options) error {
	if !fileExists(dbPath) {
		if err := os.MkdirAll(dbPath, 0700); err != nil {
			return err
		}
	}

	path := filepath.Join(dbPath, dbName)
	bdb, err := walletdb.Create(
		dbType, path, opts.NoFreelistSync, opts.DBTimeout, false,
	)
	if err != nil {
		return err
	}
	defer bdb.Close()

	return bdb.Update(func(tx walletdb.ReadWriteTx) error {
		relay, err := tx.CreateTopLevelBucket(relayBucket)
		if err != nil {
			return err
		}

		var version [4]byte
		byteOrder.PutUint32(version[:], latestDBVersion)

		return relay.Put(versionKey, version[:])
	}, func() {})
}

// checkVersion ensures the on-disk schema version matches what this build
// understands, writing out the current version for legacy databases that
// predate versioning.
func (d *DB) checkVersion() error {
	return d.Update(func(tx walletdb.ReadWriteTx) error {
		relay := tx.ReadWriteBucket(relayBucket)
		if relay == nil {
			return ErrNoRelayBucket
		}

		rawVersion := relay.Get(versionKey)
		if rawVersion == nil {
			var version [4]byte
			byteOrder.PutUint32(version[:], latestDBVersion)

			return relay.Put(versionKey, version[:])
		}

		version := byteOrder.Uint32(rawVersion)
		if version > latestDBVersion {
			return fmt.Errorf("%w: db version %d, latest known "+
				"version %d", ErrDBReversion, version,
				latestDBVersion)
		}

		return nil
	}, func() {})
}

// Version returns the schema version of the database.
func (d *DB) Version() (uint32, error) {
	var version uint32
	err := d.View(func(tx walletdb.ReadTx) error {
		relay := tx.ReadBucket(relayBucket)
		if relay == nil {
			return ErrNoRelayBucket
		}

		rawVersion := relay.Get(versionKey)
		if rawVersion == nil {
			return ErrNoRelayBucket
		}
		version = byteOrder.Uint32(rawVersion)

		return nil
	}, func() { version = 0 })

	return version, err
}

// Path returns the directory the database file lives in.
func (d *DB) Path() string {
	return d.dbPath
}

// Wipe removes every script, outpoint and request entry from the database in
// a single atomic transaction. The schema version is retained. Any in-memory
// filter built from the wiped entries is stale afterwards and must be
// reloaded by the caller.
func (d *DB) Wipe() error {
	return d.Update(func(tx walletdb.ReadWriteTx) error {
		relay := tx.ReadWriteBucket(relayBucket)
		if relay == nil {
			return ErrNoRelayBucket
		}

		for _, prefix := range [][]byte{
			scriptPrefix, outpointPrefix, requestPrefix,
		} {
			if err := wipePrefix(relay, prefix); err != nil {
				return err
			}
		}

		return nil
	}, func() {})
}

// wipePrefix deletes every key carrying the given prefix from the bucket.
func wipePrefix(bucket walletdb.ReadWriteBucket, prefix []byte) error {
	// Collect the keys up front as mutating a bucket invalidates any
	// cursor ranging over it.
	var keys [][]byte
	cursor := bucket.ReadCursor()
	for k, _ := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cursor.Next() {
		key := make([]byte, len(k))
		copy(key, k)
		keys = append(keys, key)
	}

	for _, key := range keys {
		if err := bucket.Delete(key); err != nil {
			return err
		}
	}

	return nil
}

// forEachPrefix invokes f for every key-value pair under the given prefix in
// lexicographic key order. The prefix itself is stripped from the key handed
// to f. Returning an error from f aborts the iteration.
func forEachPrefix(bucket walletdb.ReadBucket, prefix []byte,
	f func(k, v []byte) error) error {

	cursor := bucket.ReadCursor()
	for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
		if err := f(k[len(prefix):], v); err != nil {
			return err
		}
	}

	return nil
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}

	return true
}

// Package store implements the relayer's persistent state (spec §6
// "Persisted state"): pending relays, per-chain last-processed-block
// markers, and the event dedup index, all backed by a single bbolt
// database. Grounded on the teacher's channeldb/db.go Open/Wipe pattern
// and nursery_store.go's bucket-per-concern layout, collapsed from the
// nursery's height/channel/state three-tier hierarchy down to three flat
// top-level buckets since the relayer has no reorg-aware maturity ladder
// to track.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "github.com/coreos/bbolt"

	"github.com/htlcrelay/relayer/internal/log"
	"github.com/htlcrelay/relayer/internal/types"
)

var byteOrder = binary.BigEndian

var (
	swapsBucket      = []byte("swaps")
	chainStateBucket = []byte("chain-state")
	eventsBucket     = []byte("events")
)

// DB wraps a bbolt database handle with the relayer's schema.
type DB struct {
	bolt *bolt.DB
}

// Open creates or opens the bbolt file at path, creating the top-level
// buckets on first use, mirroring channeldb.Open's eager bucket creation.
func Open(path string, timeout time.Duration) (*DB, error) {
	bdb, err := bolt.Open(path, 0600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	db := &DB{bolt: bdb}
	if err := db.bolt.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{swapsBucket, chainStateBucket, eventsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		bdb.Close()
		return nil, fmt.Errorf("store: init buckets: %w", err)
	}

	log.Registry.Infof("opened relayer store at %s", path)
	return db, nil
}

// Close releases the underlying database file.
func (db *DB) Close() error {
	return db.bolt.Close()
}

// PutSwap persists relay under its RelayID, overwriting any prior record.
func (db *DB) PutSwap(relay *types.PendingRelay) error {
	raw, err := json.Marshal(relay)
	if err != nil {
		return fmt.Errorf("store: marshal swap %s: %w", relay.RelayID, err)
	}
	return db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(swapsBucket).Put([]byte(relay.RelayID), raw)
	})
}

// GetSwap looks up a swap by relayID. ok is false if no record exists.
func (db *DB) GetSwap(relayID string) (relay types.PendingRelay, ok bool, err error) {
	err = db.bolt.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(swapsBucket).Get([]byte(relayID))
		if raw == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(raw, &relay)
	})
	return relay, ok, err
}

// ListSwaps returns every persisted swap, for the recovery scanner's
// sweep.
func (db *DB) ListSwaps() ([]types.PendingRelay, error) {
	var out []types.PendingRelay
	err := db.bolt.View(func(tx *bolt.Tx) error {
		return tx.Bucket(swapsBucket).ForEach(func(_, raw []byte) error {
			var relay types.PendingRelay
			if err := json.Unmarshal(raw, &relay); err != nil {
				return err
			}
			out = append(out, relay)
			return nil
		})
	})
	return out, err
}

// DeleteSwap removes a persisted swap record.
func (db *DB) DeleteSwap(relayID string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(swapsBucket).Delete([]byte(relayID))
	})
}

// PutLastBlock records the last block/height a chain's monitor has fully
// processed, the resume point after a restart.
func (db *DB) PutLastBlock(chainID string, height uint64) error {
	var buf [8]byte
	byteOrder.PutUint64(buf[:], height)
	return db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(chainStateBucket).Put(lastBlockKey(chainID), buf[:])
	})
}

// LastBlock returns the last recorded block/height for chainID, or 0 if
// none has been recorded yet.
func (db *DB) LastBlock(chainID string) (uint64, error) {
	var height uint64
	err := db.bolt.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(chainStateBucket).Get(lastBlockKey(chainID))
		if len(raw) != 8 {
			return nil
		}
		height = byteOrder.Uint64(raw)
		return nil
	})
	return height, err
}

func lastBlockKey(chainID string) []byte {
	return []byte("lastBlock:" + chainID)
}

// MarkEvent records that (txHash, logIndex) has been handled, for
// dedup survival across restarts (the in-memory ring in internal/chains/evm
// only guards against duplicates observed within a single run).
func (db *DB) MarkEvent(txHash string, logIndex uint) error {
	key := eventKey(txHash, logIndex)
	return db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(eventsBucket).Put(key, []byte{1})
	})
}

// SeenEvent reports whether (txHash, logIndex) has already been marked.
func (db *DB) SeenEvent(txHash string, logIndex uint) (bool, error) {
	key := eventKey(txHash, logIndex)
	var seen bool
	err := db.bolt.View(func(tx *bolt.Tx) error {
		seen = tx.Bucket(eventsBucket).Get(key) != nil
		return nil
	})
	return seen, err
}

func eventKey(txHash string, logIndex uint) []byte {
	return []byte(fmt.Sprintf("event:%s/%d", txHash, logIndex))
}

// Event keys carry no timestamp and nothing in this package prunes the
// events bucket; it keeps one record per marked event.

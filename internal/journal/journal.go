// Package journal implements a bbolt-backed write-ahead log that records a
// SET or DEL intent before the corresponding file-per-key write lands.
//
// This supplements the original source's storage.rs, which performs no
// atomicity or crash-recovery beyond the underlying filesystem write call
// (spec.md §4.5: "Atomicity beyond the underlying file-system write call
// is not required"). qached adds a recovery aid on top of that minimum: if
// the process crashes between journaling an intent and the file-per-key
// write completing, Recover replays or discards the intent at the next
// startup. The journal is never authoritative for key presence — the
// file-per-key store remains the sole source of truth (spec.md §3) — so a
// journal write failure is logged and does not fail the in-flight
// request.
package journal

import (
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/h2owater425/qached/internal/logger"
)

var bucketName = []byte("pending")

// kind tags a journaled intent as a SET (carries the value) or a DEL.
type kind byte

const (
	kindSet kind = 's'
	kindDel kind = 'd'
)

// Journal records pending SET/DEL intents so they can be recovered after
// an unclean shutdown.
type Journal struct {
	db  *bolt.DB
	log *logger.Logger
}

// Open opens (or creates) the bbolt database at path and ensures the
// pending bucket exists.
func Open(path string, log *logger.Logger) (*Journal, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open journal %q: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create journal bucket: %w", err)
	}

	log.Debugf("init", "journal opened at %s", path)
	return &Journal{db: db, log: log}, nil
}

// BeginSet records a pending SET of key=value. The entry is cleared by
// Commit once the file-per-key write has landed.
func (j *Journal) BeginSet(key, value string) {
	j.put(key, append([]byte{byte(kindSet)}, value...))
}

// BeginDel records a pending DEL of key.
func (j *Journal) BeginDel(key string) {
	j.put(key, []byte{byte(kindDel)})
}

func (j *Journal) put(key string, payload []byte) {
	err := j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), payload)
	})
	if err != nil {
		j.log.Warnf("journal", "record intent for %s: %v", key, err)
	}
}

// Commit clears the pending intent for key. Call once the file-per-key
// write (or delete) has landed.
func (j *Journal) Commit(key string) {
	err := j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
	if err != nil {
		j.log.Warnf("journal", "commit %s: %v", key, err)
	}
}

// Writer is the subset of store.Store Recover needs, kept narrow so tests
// can supply a stub.
type Writer interface {
	Write(key, value string) error
	Delete(key string) (bool, error)
}

// Recover replays every pending intent against w: a pending SET rewrites
// the value (idempotent — the original write may or may not have landed),
// a pending DEL re-attempts the delete. Every replayed intent is then
// cleared. Recover returns the number of intents replayed.
func (j *Journal) Recover(w Writer) (int, error) {
	var pending []struct {
		key     string
		payload []byte
	}

	if err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, v []byte) error {
			payload := make([]byte, len(v))
			copy(payload, v)
			pending = append(pending, struct {
				key     string
				payload []byte
			}{key: string(k), payload: payload})
			return nil
		})
	}); err != nil {
		return 0, fmt.Errorf("scan journal: %w", err)
	}

	replayed := 0
	for _, entry := range pending {
		if len(entry.payload) == 0 {
			j.Commit(entry.key)
			continue
		}

		switch kind(entry.payload[0]) {
		case kindSet:
			if err := w.Write(entry.key, string(entry.payload[1:])); err != nil {
				j.log.Warnf("journal", "recover SET %s: %v", entry.key, err)
				continue
			}
		case kindDel:
			if _, err := w.Delete(entry.key); err != nil {
				j.log.Warnf("journal", "recover DEL %s: %v", entry.key, err)
				continue
			}
		default:
			j.log.Warnf("journal", "unknown intent kind for %s", entry.key)
		}

		j.Commit(entry.key)
		replayed++
	}

	if replayed > 0 {
		j.log.Infof("recover", "replayed %d pending intent(s)", replayed)
	}
	return replayed, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

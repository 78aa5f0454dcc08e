package rpc

import (
	"encoding/json"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketIdempotency = []byte("idempotency")

const idempotencyTTL = 24 * time.Hour

// IdempotencyRecord stores the cached response for an idempotency key so
// retried mutations replay the original outcome instead of re-executing.
type IdempotencyRecord struct {
	StatusCode int       `json:"statusCode"`
	Body       []byte    `json:"body"`
	StoredAt   time.Time `json:"storedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// IdempotencyStore persists replay records in a Bolt database.
type IdempotencyStore struct {
	db *bolt.DB
}

// NewIdempotencyStore opens (and migrates) the BoltDB-backed store.
func NewIdempotencyStore(path string) (*IdempotencyStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIdempotency)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &IdempotencyStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *IdempotencyStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the cached response for a key when it has not expired. Expired
// records are deleted on read.
func (s *IdempotencyStore) Get(key string, now time.Time) (IdempotencyRecord, bool, error) {
	var record IdempotencyRecord
	if s == nil || s.db == nil {
		return record, false, nil
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketIdempotency)
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &record); err != nil {
			return err
		}
		if now.After(record.ExpiresAt) {
			record = IdempotencyRecord{}
			return bucket.Delete([]byte(key))
		}
		return nil
	})
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	if record.StatusCode == 0 && len(record.Body) == 0 {
		return IdempotencyRecord{}, false, nil
	}
	return record, true, nil
}

// Put stores the response envelope for the supplied key.
func (s *IdempotencyStore) Put(key string, statusCode int, body []byte, now time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	record := IdempotencyRecord{
		StatusCode: statusCode,
		Body:       append([]byte(nil), body...),
		StoredAt:   now,
		ExpiresAt:  now.Add(idempotencyTTL),
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		payload, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketIdempotency).Put([]byte(key), payload)
	})
}

func normalizeIdempotencyKey(raw, method string) string {
	key := strings.TrimSpace(raw)
	if key == "" {
		return ""
	}
	// Scope keys per method so the same client key cannot replay a different
	// operation's response.
	return method + ":" + key
}

package spaauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	boltDirPerm  = fs.FileMode(0o700)
	boltFilePerm = fs.FileMode(0o600)

	// boltOpenTimeout bounds the wait for the bolt file lock.
	boltOpenTimeout = 5 * time.Second
)

func tokensBucket(authority string) []byte {
	return []byte("tokens:" + authority)
}

func propsBucket(authority string) []byte {
	return []byte("props:" + authority)
}

// historyBucket holds last-successful-auth timestamps for all
// authorities. It is written regardless of cache mode.
var historyBucket = []byte("history")

// BoltStore is the persistent storage backend. One file serves every
// registered authority; per-authority state lives in its own buckets.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if needed) the persistent store at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), boltDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := bolt.Open(path, boltFilePerm, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(historyBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare state db: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close releases the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// TokenStore returns the persistent token store for an authority.
func (s *BoltStore) TokenStore(authority string) TokenStore {
	return &boltTokenStore{db: s.db, bucket: tokensBucket(authority)}
}

// PropertyStore returns the persistent property store for an authority.
func (s *BoltStore) PropertyStore(authority string) PropertyStore {
	return &boltPropertyStore{db: s.db, bucket: propsBucket(authority)}
}

// History returns the auth history for an authority.
func (s *BoltStore) History(authority string) AuthHistory {
	return &boltAuthHistory{db: s.db, key: []byte(storeKey(authority, "lastAuth"))}
}

type boltTokenStore struct {
	db     *bolt.DB
	bucket []byte
}

func (s *boltTokenStore) get(key string) (TokenContainer, error) {
	var tc TokenContainer
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return ErrNotFound
		}
		raw := b.Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(raw, &tc); err != nil {
			return fmt.Errorf("failed to decode token container: %w", err)
		}
		return nil
	})
	if err != nil {
		return TokenContainer{}, err
	}
	if !tc.Valid(time.Now()) {
		return TokenContainer{}, ErrNotFound
	}
	return tc, nil
}

func (s *boltTokenStore) put(key string, tc TokenContainer) error {
	raw, err := json.Marshal(tc)
	if err != nil {
		return fmt.Errorf("failed to encode token container: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), raw)
	})
}

func (s *boltTokenStore) AccessToken(_ context.Context, resource string) (TokenContainer, error) {
	return s.get(storeKey("accessToken", resource))
}

func (s *boltTokenStore) SetAccessToken(_ context.Context, resource string, tc TokenContainer) error {
	return s.put(storeKey("accessToken", resource), tc)
}

func (s *boltTokenStore) IDToken(_ context.Context) (TokenContainer, error) {
	return s.get(storeKey("idToken"))
}

func (s *boltTokenStore) SetIDToken(_ context.Context, tc TokenContainer) error {
	return s.put(storeKey("idToken"), tc)
}

func (s *boltTokenStore) RefreshToken(_ context.Context) (string, error) {
	tc, err := s.get(storeKey("refreshToken"))
	if err != nil {
		return "", err
	}
	return tc.Token, nil
}

func (s *boltTokenStore) SetRefreshToken(_ context.Context, token string) error {
	return s.put(storeKey("refreshToken"), TokenContainer{Token: token})
}

func (s *boltTokenStore) Clear(_ context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(s.bucket) == nil {
			return nil
		}
		return tx.DeleteBucket(s.bucket)
	})
}

type boltPropertyStore struct {
	db     *bolt.DB
	bucket []byte
}

func (s *boltPropertyStore) Get(_ context.Context, key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return ErrNotFound
		}
		raw := b.Get([]byte(storeKey(key)))
		if raw == nil {
			return ErrNotFound
		}
		value = string(raw)
		return nil
	})
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *boltPropertyStore) Set(_ context.Context, key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(storeKey(key)), []byte(value))
	})
}

func (s *boltPropertyStore) Remove(_ context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(storeKey(key)))
	})
}

type boltAuthHistory struct {
	db  *bolt.DB
	key []byte
}

func (h *boltAuthHistory) LastSuccess(_ context.Context) (time.Time, error) {
	var last time.Time
	err := h.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(historyBucket).Get(h.key)
		if raw == nil {
			return ErrNotFound
		}
		t, err := time.Parse(time.RFC3339, string(raw))
		if err != nil {
			return fmt.Errorf("failed to parse last auth timestamp: %w", err)
		}
		last = t
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return last, nil
}

func (h *boltAuthHistory) SetLastSuccess(_ context.Context, t time.Time) error {
	return h.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(historyBucket).Put(h.key, []byte(t.UTC().Format(time.RFC3339)))
	})
}

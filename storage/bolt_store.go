package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const subscriberBucket = "telegram_subscribers"

// boltStore keeps subscribers in a BoltDB file keyed by big-endian chat id.
type boltStore struct {
	db *bolt.DB
}

func openBolt(path string) (*boltStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(subscriberBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init bucket: %w", err)
	}
	return &boltStore{db: db}, nil
}

func chatKey(id int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(id))
	return k
}

func (b *boltStore) Add(_ context.Context, id int64) (bool, error) {
	var added bool
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(subscriberBucket))
		if bucket == nil {
			return fmt.Errorf("subscriber bucket missing")
		}
		k := chatKey(id)
		if bucket.Get(k) != nil {
			return nil
		}
		added = true
		v, _ := time.Now().UTC().MarshalBinary()
		return bucket.Put(k, v)
	})
	return added, err
}

func (b *boltStore) Remove(_ context.Context, id int64) (bool, error) {
	var removed bool
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(subscriberBucket))
		if bucket == nil {
			return fmt.Errorf("subscriber bucket missing")
		}
		k := chatKey(id)
		if bucket.Get(k) == nil {
			return nil
		}
		removed = true
		return bucket.Delete(k)
	})
	return removed, err
}

// List returns ids in ascending numeric order.
func (b *boltStore) List(context.Context) ([]int64, error) {
	var neg, pos []int64
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(subscriberBucket))
		if bucket == nil {
			return fmt.Errorf("subscriber bucket missing")
		}
		return bucket.ForEach(func(k, _ []byte) error {
			if len(k) != 8 {
				return nil
			}
			id := int64(binary.BigEndian.Uint64(k))
			if id < 0 {
				neg = append(neg, id)
			} else {
				pos = append(pos, id)
			}
			return nil
		})
	})
	// Keys sort as unsigned, so negative ids (group chats) come last.
	return append(neg, pos...), err
}

func (b *boltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

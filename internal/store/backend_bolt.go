package store

import (
	"bytes"
	"sort"
	"strings"

	"go.etcd.io/bbolt"

	apperrors "github.com/buxton-project/buxtond/pkg/errors"
)

var entriesBucket = []byte("entries")

// sep separates a key's group from its name in the bucket's byte key.
// The wire codec checks only a string's final NUL terminator, so a
// group or name with an embedded NUL is not rejected; splitRowKey
// splits at the first sep, so such a group is not recovered intact.
const sep = 0x00

// BoltBackend is a Backend backed by one bbolt database file per layer,
// one physical database file per layer.
type BoltBackend struct {
	path string
	db   *bbolt.DB
}

// NewBoltBackend returns a Backend rooted at path. The file is created
// on first Open/CreateDB.
func NewBoltBackend(path string) *BoltBackend {
	return &BoltBackend{path: path}
}

func (b *BoltBackend) Open() error {
	db, err := bbolt.Open(b.path, 0o600, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.IoError, "opening layer database", err)
	}
	b.db = db
	return db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entriesBucket)
		return err
	})
}

func (b *BoltBackend) CreateDB() error {
	return b.Open()
}

func (b *BoltBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func rowKey(k Key) []byte {
	buf := make([]byte, 0, len(k.Group)+1+len(k.Name))
	buf = append(buf, k.Group...)
	buf = append(buf, sep)
	buf = append(buf, k.Name...)
	return buf
}

func (b *BoltBackend) Get(k Key) ([]byte, bool, error) {
	var raw []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(entriesBucket).Get(rowKey(k))
		if v != nil {
			raw = append([]byte{}, v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.IoError, "reading entry", err)
	}
	return raw, raw != nil, nil
}

func (b *BoltBackend) Set(k Key, raw []byte) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(entriesBucket).Put(rowKey(k), raw)
	})
	if err != nil {
		return apperrors.Wrap(apperrors.IoError, "writing entry", err)
	}
	return nil
}

func (b *BoltBackend) Unset(k Key) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(entriesBucket).Delete(rowKey(k))
	})
	if err != nil {
		return apperrors.Wrap(apperrors.IoError, "removing entry", err)
	}
	return nil
}

func (b *BoltBackend) ListKeys() ([]Key, error) {
	var keys []Key
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(entriesBucket).ForEach(func(k, _ []byte) error {
			keys = append(keys, splitRowKey(k))
			return nil
		})
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.IoError, "listing entries", err)
	}
	return keys, nil
}

func (b *BoltBackend) ListNames(group, prefix string) ([]string, error) {
	var names []string
	groupPrefix := append(append([]byte{}, group...), sep)
	namePrefix := append(append([]byte{}, groupPrefix...), prefix...)

	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(entriesBucket).Cursor()
		for k, _ := c.Seek(namePrefix); k != nil && bytes.HasPrefix(k, groupPrefix); k, _ = c.Next() {
			name := string(k[len(groupPrefix):])
			if name == "" {
				continue // the group row itself, not a listable name
			}
			if !strings.HasPrefix(name, prefix) {
				continue
			}
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.IoError, "listing names", err)
	}
	sort.Strings(names)
	return names, nil
}

func splitRowKey(k []byte) Key {
	i := bytes.IndexByte(k, sep)
	if i < 0 {
		return Key{Group: string(k)}
	}
	return Key{Group: string(k[:i]), Name: string(k[i+1:])}
}

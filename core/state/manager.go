package state

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"p2pmarket/storage"
)

// ErrTxClosed is returned when a transaction is used after Commit or Rollback.
var ErrTxClosed = errors.New("state: transaction already closed")

// Store is the key/value surface consumed by the native market modules. Both
// the Manager and its transactions satisfy it.
type Store interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVRemove(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	NextSequence(key []byte) (uint64, error)
}

type rawStore interface {
	getRaw(hashed []byte) ([]byte, bool, error)
	putRaw(hashed []byte, value []byte) error
	deleteRaw(hashed []byte) error
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// kv implements the RLP helpers on top of a raw hashed-key store.
type kv struct {
	raw rawStore
}

// KVPut stores the RLP encoding of value under the supplied key.
func (s kv) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return s.raw.putRaw(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (s kv) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, ok, err := s.raw.getRaw(kvKey(key))
	if err != nil {
		return false, err
	}
	if !ok || len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (s kv) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return s.raw.deleteRaw(kvKey(key))
}

func (s kv) loadList(hashed []byte) ([][]byte, error) {
	data, ok, err := s.raw.getRaw(hashed)
	if err != nil {
		return nil, err
	}
	var list [][]byte
	if ok && len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (s kv) storeList(hashed []byte, list [][]byte) error {
	if len(list) == 0 {
		return s.raw.deleteRaw(hashed)
	}
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return s.raw.putRaw(hashed, encoded)
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (s kv) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	list, err := s.loadList(hashed)
	if err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return s.storeList(hashed, list)
}

// KVRemove drops value from the list stored under key, preserving the order of
// the remaining entries. Removing an absent value is a no-op.
func (s kv) KVRemove(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	list, err := s.loadList(hashed)
	if err != nil {
		return err
	}
	filtered := list[:0]
	removed := false
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			removed = true
			continue
		}
		filtered = append(filtered, existing)
	}
	if !removed {
		return nil
	}
	return s.storeList(hashed, filtered)
}

// KVGetList retrieves an RLP-encoded slice stored under the provided key and
// decodes it into the supplied destination slice pointer. When no value is
// present the destination is initialised with an empty slice to avoid nil
// surprises for callers.
func (s kv) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, ok, err := s.raw.getRaw(kvKey(key))
	if err != nil {
		return err
	}
	if !ok || len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}

// NextSequence increments the counter stored under key and returns the new
// value. The first call yields 1.
func (s kv) NextSequence(key []byte) (uint64, error) {
	if len(key) == 0 {
		return 0, fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	data, ok, err := s.raw.getRaw(hashed)
	if err != nil {
		return 0, err
	}
	var current uint64
	if ok && len(data) == 8 {
		current = binary.BigEndian.Uint64(data)
	}
	current++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, current)
	if err := s.raw.putRaw(hashed, buf); err != nil {
		return 0, err
	}
	return current, nil
}

// Manager provides RLP-encoded key/value access to a backing database. Writes
// made directly on the manager are applied immediately; Begin opens an
// overlay whose writes only reach the database on Commit.
type Manager struct {
	kv
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	m := &Manager{db: db}
	m.kv = kv{raw: m}
	return m
}

func (m *Manager) getRaw(hashed []byte) ([]byte, bool, error) {
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (m *Manager) putRaw(hashed []byte, value []byte) error {
	return m.db.Put(hashed, value)
}

func (m *Manager) deleteRaw(hashed []byte) error {
	return m.db.Delete(hashed)
}

// Begin opens a transaction overlay on top of the manager.
func (m *Manager) Begin() *Tx {
	tx := &Tx{parent: m, writes: make(map[string][]byte)}
	tx.kv = kv{raw: tx}
	return tx
}

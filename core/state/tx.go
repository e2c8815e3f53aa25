package state

import "p2pmarket/storage"

// Tx buffers reads and writes against a Manager. Reads observe the
// transaction's own writes first. Nothing reaches the database until Commit,
// which applies every buffered write in a single storage batch.
type Tx struct {
	kv
	parent *Manager
	// writes maps hashed keys to encoded values; a nil value marks a delete.
	writes map[string][]byte
	order  []string
	closed bool
}

func (tx *Tx) getRaw(hashed []byte) ([]byte, bool, error) {
	if tx.closed {
		return nil, false, ErrTxClosed
	}
	if value, ok := tx.writes[string(hashed)]; ok {
		if value == nil {
			return nil, false, nil
		}
		return append([]byte(nil), value...), true, nil
	}
	return tx.parent.getRaw(hashed)
}

func (tx *Tx) record(hashed []byte, value []byte) {
	key := string(hashed)
	if _, seen := tx.writes[key]; !seen {
		tx.order = append(tx.order, key)
	}
	tx.writes[key] = value
}

func (tx *Tx) putRaw(hashed []byte, value []byte) error {
	if tx.closed {
		return ErrTxClosed
	}
	if value == nil {
		value = []byte{}
	}
	tx.record(hashed, append([]byte(nil), value...))
	return nil
}

func (tx *Tx) deleteRaw(hashed []byte) error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.record(hashed, nil)
	return nil
}

// Dirty reports the number of distinct keys written by the transaction.
func (tx *Tx) Dirty() int { return len(tx.writes) }

// Commit writes the overlay to the database atomically and closes the
// transaction.
func (tx *Tx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	batch := new(storage.Batch)
	for _, key := range tx.order {
		value := tx.writes[key]
		if value == nil {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), value)
	}
	if err := tx.parent.db.Write(batch); err != nil {
		return err
	}
	tx.closed = true
	tx.writes = nil
	tx.order = nil
	return nil
}

// Rollback discards the overlay. Rolling back a closed transaction is a no-op
// so callers can defer it unconditionally.
func (tx *Tx) Rollback() {
	if tx.closed {
		return
	}
	tx.closed = true
	tx.writes = nil
	tx.order = nil
}

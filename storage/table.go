package storage

// Table namespaces every key of an underlying database with a fixed prefix so
// independent modules can share one store.
type Table struct {
	db     Database
	prefix []byte
}

// NewTable wraps db so all keys are stored under prefix.
func NewTable(db Database, prefix string) *Table {
	return &Table{db: db, prefix: []byte(prefix)}
}

func (t *Table) key(k []byte) []byte {
	out := make([]byte, len(t.prefix)+len(k))
	copy(out, t.prefix)
	copy(out[len(t.prefix):], k)
	return out
}

func (t *Table) Put(key []byte, value []byte) error { return t.db.Put(t.key(key), value) }

func (t *Table) Get(key []byte) ([]byte, error) { return t.db.Get(t.key(key)) }

func (t *Table) Delete(key []byte) error { return t.db.Delete(t.key(key)) }

func (t *Table) Write(batch *Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	prefixed := &Batch{ops: make([]batchOp, len(batch.ops))}
	for i, op := range batch.ops {
		prefixed.ops[i] = batchOp{key: t.key(op.key), value: op.value, delete: op.delete}
	}
	return t.db.Write(prefixed)
}

// Close is a no-op; the owner of the underlying database closes it.
func (t *Table) Close() {}

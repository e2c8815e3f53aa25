package reputation

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"

	"p2pmarket/core/events"
)

type memoryStore struct {
	data map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string][]byte)}
}

func (m *memoryStore) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.data[string(key)] = encoded
	return nil
}

func (m *memoryStore) KVGet(key []byte, out interface{}) (bool, error) {
	encoded, ok := m.data[string(key)]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, err
	}
	return true, nil
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func TestLedgerGetUnknownIsZero(t *testing.T) {
	store := newMemoryStore()
	ledger := NewLedger(store)
	var user [20]byte
	user[0] = 1

	rep, err := ledger.Get(user, "USDC")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rep.GoodVolume.Sign() != 0 || rep.BadVolume.Sign() != 0 || rep.TotalDeals != 0 {
		t.Fatalf("expected zero reputation, got %+v", rep)
	}
	if len(store.data) != 0 {
		t.Fatalf("read must not create records")
	}
	if _, err := ledger.Get(user, "  "); err != ErrAssetRequired {
		t.Fatalf("expected ErrAssetRequired, got %v", err)
	}
}

func TestLedgerRecordAccumulates(t *testing.T) {
	store := newMemoryStore()
	ledger := NewLedger(store)
	emitter := &capturingEmitter{}
	ledger.SetEmitter(emitter)
	var user [20]byte
	user[19] = 9

	if _, err := ledger.Record(user, "X", big.NewInt(60), true); err != nil {
		t.Fatalf("record good: %v", err)
	}
	rep, err := ledger.Record(user, "X", big.NewInt(15), false)
	if err != nil {
		t.Fatalf("record bad: %v", err)
	}
	if rep.GoodVolume.Cmp(big.NewInt(60)) != 0 || rep.BadVolume.Cmp(big.NewInt(15)) != 0 || rep.TotalDeals != 2 {
		t.Fatalf("unexpected reputation %+v", rep)
	}

	reloaded, err := NewLedger(store).Get(user, "X")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.GoodVolume.Cmp(big.NewInt(60)) != 0 || reloaded.TotalDeals != 2 {
		t.Fatalf("unexpected persisted reputation %+v", reloaded)
	}
	if !reloaded.Meets(big.NewInt(60)) || reloaded.Meets(big.NewInt(61)) {
		t.Fatalf("unexpected Meets result for good volume 60")
	}

	if len(emitter.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(emitter.events))
	}
	attrs := emitter.events[1].Event().Attributes
	if attrs["success"] != "false" || attrs["badVolume"] != "15" || attrs["totalDeals"] != "2" {
		t.Fatalf("unexpected event attributes %v", attrs)
	}

	if _, err := ledger.Record(user, "X", big.NewInt(-1), true); err != ErrInvalidVolume {
		t.Fatalf("expected ErrInvalidVolume, got %v", err)
	}
}

package state

import (
	"errors"
	"math/big"
	"testing"

	"p2pmarket/storage"
)

type record struct {
	Name   string
	Amount *big.Int
}

func TestManagerKVReadWrite(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	var out record
	ok, err := mgr.KVGet([]byte("missing"), &out)
	if err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}
	if err := mgr.KVPut([]byte("rec"), record{Name: "x", Amount: big.NewInt(42)}); err != nil {
		t.Fatalf("put: %v", err)
	}
	ok, err = mgr.KVGet([]byte("rec"), &out)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if out.Name != "x" || out.Amount.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("unexpected record %+v", out)
	}
	if err := mgr.KVDelete([]byte("rec")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := mgr.KVGet([]byte("rec"), nil); ok {
		t.Fatalf("expected record to be deleted")
	}
	if err := mgr.KVPut(nil, 1); err == nil {
		t.Fatalf("expected empty key to be rejected")
	}
}

func TestManagerListHelpers(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	key := []byte("index")

	var empty [][]byte
	if err := mgr.KVGetList(key, &empty); err != nil {
		t.Fatalf("get empty list: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected initialised empty list, got %v", empty)
	}

	for _, v := range []string{"a", "b", "a", "c"} {
		if err := mgr.KVAppend(key, []byte(v)); err != nil {
			t.Fatalf("append %s: %v", v, err)
		}
	}
	var list [][]byte
	if err := mgr.KVGetList(key, &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if len(list) != 3 || string(list[0]) != "a" || string(list[2]) != "c" {
		t.Fatalf("unexpected list %q", list)
	}

	if err := mgr.KVRemove(key, []byte("b")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := mgr.KVRemove(key, []byte("zz")); err != nil {
		t.Fatalf("remove absent: %v", err)
	}
	list = nil
	if err := mgr.KVGetList(key, &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if len(list) != 2 || string(list[0]) != "a" || string(list[1]) != "c" {
		t.Fatalf("unexpected list after remove %q", list)
	}
}

func TestNextSequence(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	for want := uint64(1); want <= 3; want++ {
		got, err := mgr.NextSequence([]byte("seq"))
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
}

func TestTxCommitAppliesAtomically(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	if err := mgr.KVPut([]byte("stale"), uint64(1)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tx := mgr.Begin()
	if err := tx.KVPut([]byte("a"), uint64(7)); err != nil {
		t.Fatalf("tx put: %v", err)
	}
	if err := tx.KVDelete([]byte("stale")); err != nil {
		t.Fatalf("tx delete: %v", err)
	}
	var v uint64
	if ok, err := tx.KVGet([]byte("a"), &v); err != nil || !ok || v != 7 {
		t.Fatalf("tx should read its own write: ok=%v v=%d err=%v", ok, v, err)
	}
	if ok, _ := tx.KVGet([]byte("stale"), nil); ok {
		t.Fatalf("tx should observe its own delete")
	}
	if ok, _ := mgr.KVGet([]byte("a"), nil); ok {
		t.Fatalf("uncommitted write leaked to manager")
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if ok, _ := mgr.KVGet([]byte("a"), &v); !ok || v != 7 {
		t.Fatalf("committed write missing")
	}
	if ok, _ := mgr.KVGet([]byte("stale"), nil); ok {
		t.Fatalf("committed delete missing")
	}
	if err := tx.KVPut([]byte("b"), uint64(1)); !errors.Is(err, ErrTxClosed) {
		t.Fatalf("expected ErrTxClosed, got %v", err)
	}
}

func TestTxRollbackDiscards(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	tx := mgr.Begin()
	if err := tx.KVAppend([]byte("list"), []byte("x")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := tx.NextSequence([]byte("seq")); err != nil {
		t.Fatalf("sequence: %v", err)
	}
	if tx.Dirty() != 2 {
		t.Fatalf("expected 2 dirty keys, got %d", tx.Dirty())
	}
	tx.Rollback()
	tx.Rollback()
	if len(db.Keys()) != 0 {
		t.Fatalf("rollback leaked %d keys", len(db.Keys()))
	}
	seq, err := mgr.NextSequence([]byte("seq"))
	if err != nil || seq != 1 {
		t.Fatalf("expected sequence restart at 1, got %d (%v)", seq, err)
	}
}

package journal

import (
	"context"
	"encoding/hex"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"p2pmarket/core/events"
)

func openTestSink(t *testing.T) *Sink {
	t.Helper()
	sink, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })
	sink.SetNowFunc(func() time.Time { return time.Unix(1_700_000_000, 0) })
	return sink
}

func TestSinkPersistsRecords(t *testing.T) {
	sink := openTestSink(t)
	offerID := [32]byte{0x01}
	dealID := [32]byte{0x02}

	sink.Emit(events.OfferUpdated{ID: offerID, RemainingSellAmount: big.NewInt(40), RemainingBuyAmount: big.NewInt(48), Price: big.NewInt(1), IsOpen: true})
	sink.Emit(events.DealCreated{ID: dealID, OfferID: offerID, SellAmount: big.NewInt(60), BuyAmount: big.NewInt(72)})
	sink.Emit(events.MarketPaused{Paused: true})
	if sink.Failed() != 0 {
		t.Fatalf("unexpected write failures: %d", sink.Failed())
	}

	all, err := sink.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	for i, rec := range all {
		if rec.Seq != uint64(i+1) {
			t.Fatalf("record %d has seq %d", i, rec.Seq)
		}
	}
	if all[1].Type != events.TypeDealCreated || all[1].Attributes["sellAmount"] != "60" {
		t.Fatalf("unexpected deal record %+v", all[1])
	}

	byOffer, err := sink.List(context.Background(), Filter{OfferID: hex.EncodeToString(offerID[:])})
	if err != nil {
		t.Fatalf("list by offer: %v", err)
	}
	if len(byOffer) != 2 {
		t.Fatalf("expected 2 records for offer, got %d", len(byOffer))
	}

	after, err := sink.List(context.Background(), Filter{AfterSeq: 2})
	if err != nil {
		t.Fatalf("list after: %v", err)
	}
	if len(after) != 1 || after[0].Type != events.TypeMarketPaused {
		t.Fatalf("unexpected records after seq 2: %+v", after)
	}
}

func TestSinkResumesSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	first, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	first.Emit(events.MarketPaused{Paused: true})
	first.Emit(events.MarketPaused{Paused: false})
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	second.Emit(events.MarketPaused{Paused: true})
	records, err := second.List(context.Background(), Filter{Type: events.TypeMarketPaused})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 3 || records[2].Seq != 3 {
		t.Fatalf("expected sequence to resume at 3, got %+v", records)
	}
}

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open(" "); err == nil {
		t.Fatalf("expected empty dsn to fail")
	}
}

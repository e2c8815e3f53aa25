package reputation

import (
	"errors"
	"fmt"
	"math/big"

	"p2pmarket/core/events"
)

// storage abstracts the subset of state manager functionality required by the
// reputation ledger.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var reputationPrefix = []byte("reputation/volume/")

func reputationKey(user [20]byte, asset string) []byte {
	return []byte(fmt.Sprintf("%s%x/%s", reputationPrefix, user, asset))
}

var (
	// ErrAssetRequired marks lookups without an asset symbol.
	ErrAssetRequired = errors.New("reputation: asset required")
	// ErrInvalidVolume is returned when a negative amount is recorded.
	ErrInvalidVolume = errors.New("reputation: invalid volume")
)

type storedReputation struct {
	GoodVolume *big.Int
	BadVolume  *big.Int
	TotalDeals uint64
}

// Ledger persists per-(user, asset) trade accumulators. Get is the read path
// consulted by the offer book; Record is reserved for deal resolution.
type Ledger struct {
	store   storage
	emitter events.Emitter
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store storage) *Ledger {
	return &Ledger{store: store, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the sink receiving ReputationUpdated records.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if l == nil {
		return
	}
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) ready() error {
	if l == nil {
		return errors.New("reputation: ledger not initialised")
	}
	if l.store == nil {
		return errors.New("reputation: storage unavailable")
	}
	return nil
}

// Get returns the reputation of user for asset. Unknown pairs yield a zeroed
// record; nothing is written.
func (l *Ledger) Get(user [20]byte, asset string) (*Reputation, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	asset = normalizeAsset(asset)
	if asset == "" {
		return nil, ErrAssetRequired
	}
	var stored storedReputation
	ok, err := l.store.KVGet(reputationKey(user, asset), &stored)
	if err != nil {
		return nil, err
	}
	rep := emptyReputation(user, asset)
	if !ok {
		return rep, nil
	}
	rep.GoodVolume = cloneAmount(stored.GoodVolume)
	rep.BadVolume = cloneAmount(stored.BadVolume)
	rep.TotalDeals = stored.TotalDeals
	return rep, nil
}

// Record credits amount to the good or bad volume of (user, asset) and counts
// one more deal. The record is created lazily on first use.
func (l *Ledger) Record(user [20]byte, asset string, amount *big.Int, success bool) (*Reputation, error) {
	if amount != nil && amount.Sign() < 0 {
		return nil, ErrInvalidVolume
	}
	rep, err := l.Get(user, asset)
	if err != nil {
		return nil, err
	}
	delta := cloneAmount(amount)
	if success {
		rep.GoodVolume.Add(rep.GoodVolume, delta)
	} else {
		rep.BadVolume.Add(rep.BadVolume, delta)
	}
	rep.TotalDeals++
	stored := storedReputation{
		GoodVolume: rep.GoodVolume,
		BadVolume:  rep.BadVolume,
		TotalDeals: rep.TotalDeals,
	}
	if err := l.store.KVPut(reputationKey(user, rep.Asset), &stored); err != nil {
		return nil, err
	}
	l.emitter.Emit(events.ReputationUpdated{
		User:       user,
		Asset:      rep.Asset,
		Success:    success,
		Amount:     delta,
		GoodVolume: new(big.Int).Set(rep.GoodVolume),
		BadVolume:  new(big.Int).Set(rep.BadVolume),
		TotalDeals: rep.TotalDeals,
	})
	return rep.Clone(), nil
}

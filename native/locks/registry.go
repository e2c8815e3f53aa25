// Package locks implements the gates consulted before new offers, fills and
// votes: administrative subject locks, dispute holds placed while a deal
// awaits arbitration, and administrative pair locks.
package locks

import (
	"errors"
	"fmt"
	"strings"

	"p2pmarket/core/events"
	"p2pmarket/native/offers"
)

const (
	ScopeSubject = "subject"
	ScopePair    = "pair"

	ReasonAdmin   = "admin"
	ReasonDispute = "dispute"
)

var (
	ErrAssetRequired   = errors.New("locks: asset required")
	ErrSubjectRequired = errors.New("locks: subject required")
	ErrSamePair        = errors.New("locks: pair assets must differ")
	ErrNoHold          = errors.New("locks: no dispute hold to release")
)

type lockStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	subjectPrefix = []byte("locks/subject/")
	pairPrefix    = []byte("locks/pair/")
)

// Lock is the gate state of a (subject, asset) pair. Admin locks and dispute
// holds are tracked separately so releasing one never clears the other.
type Lock struct {
	Admin    bool
	Disputes uint64
}

// IsLocked reports whether any gate is active.
func (l Lock) IsLocked() bool { return l.Admin || l.Disputes > 0 }

type pairLock struct {
	Locked bool
}

func subjectKey(subject [20]byte, asset string) []byte {
	return []byte(fmt.Sprintf("%s%x/%s", subjectPrefix, subject, asset))
}

// PairKey reduces collectibles to their collection and orders the two assets
// so (A,B) and (B,A) share one record.
func PairKey(assetA, assetB string) (string, string) {
	a, b := offers.Collection(assetA), offers.Collection(assetB)
	if b < a {
		a, b = b, a
	}
	return a, b
}

func pairKey(a, b string) []byte {
	return []byte(fmt.Sprintf("%s%s/%s", pairPrefix, a, b))
}

// Registry persists lock state. Records are created lazily and never deleted.
type Registry struct {
	store   lockStore
	emitter events.Emitter
}

// NewRegistry binds a registry to the supplied store.
func NewRegistry(store lockStore) *Registry {
	return &Registry{store: store, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the sink receiving LockChanged records.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if r == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	r.emitter = emitter
}

func (r *Registry) ready() error {
	if r == nil || r.store == nil {
		return errors.New("locks: registry not configured")
	}
	return nil
}

func validateSubject(subject [20]byte, asset string) (string, error) {
	if subject == ([20]byte{}) {
		return "", ErrSubjectRequired
	}
	asset = strings.TrimSpace(asset)
	if asset == "" {
		return "", ErrAssetRequired
	}
	return asset, nil
}

// Get returns the lock state of (subject, asset).
func (r *Registry) Get(subject [20]byte, asset string) (Lock, error) {
	if err := r.ready(); err != nil {
		return Lock{}, err
	}
	asset, err := validateSubject(subject, asset)
	if err != nil {
		return Lock{}, err
	}
	var lock Lock
	if _, err := r.store.KVGet(subjectKey(subject, asset), &lock); err != nil {
		return Lock{}, err
	}
	return lock, nil
}

func (r *Registry) put(subject [20]byte, asset string, lock Lock) error {
	return r.store.KVPut(subjectKey(subject, asset), &lock)
}

// IsLocked reports whether (subject, asset) is gated by an admin lock or a
// dispute hold.
func (r *Registry) IsLocked(subject [20]byte, asset string) (bool, error) {
	lock, err := r.Get(subject, asset)
	if err != nil {
		return false, err
	}
	return lock.IsLocked(), nil
}

// IsAdminLocked reports whether an administrator locked (subject, asset).
func (r *Registry) IsAdminLocked(subject [20]byte, asset string) (bool, error) {
	lock, err := r.Get(subject, asset)
	if err != nil {
		return false, err
	}
	return lock.Admin, nil
}

// SetLock sets or clears the administrative lock of (subject, asset).
func (r *Registry) SetLock(subject [20]byte, asset string, locked bool) error {
	lock, err := r.Get(subject, asset)
	if err != nil {
		return err
	}
	asset = strings.TrimSpace(asset)
	lock.Admin = locked
	if err := r.put(subject, asset, lock); err != nil {
		return err
	}
	r.emitter.Emit(events.LockChanged{
		Scope:   ScopeSubject,
		Subject: subject,
		Asset:   asset,
		Locked:  locked,
		Reason:  ReasonAdmin,
	})
	return nil
}

// Hold places one dispute hold on (subject, asset).
func (r *Registry) Hold(subject [20]byte, asset string) error {
	lock, err := r.Get(subject, asset)
	if err != nil {
		return err
	}
	asset = strings.TrimSpace(asset)
	lock.Disputes++
	if err := r.put(subject, asset, lock); err != nil {
		return err
	}
	r.emitter.Emit(events.LockChanged{
		Scope:   ScopeSubject,
		Subject: subject,
		Asset:   asset,
		Locked:  true,
		Reason:  ReasonDispute,
	})
	return nil
}

// Release removes one dispute hold from (subject, asset).
func (r *Registry) Release(subject [20]byte, asset string) error {
	lock, err := r.Get(subject, asset)
	if err != nil {
		return err
	}
	if lock.Disputes == 0 {
		return ErrNoHold
	}
	asset = strings.TrimSpace(asset)
	lock.Disputes--
	if err := r.put(subject, asset, lock); err != nil {
		return err
	}
	r.emitter.Emit(events.LockChanged{
		Scope:   ScopeSubject,
		Subject: subject,
		Asset:   asset,
		Locked:  lock.IsLocked(),
		Reason:  ReasonDispute,
	})
	return nil
}

// IsPairLocked reports whether trading between the two assets is disabled.
func (r *Registry) IsPairLocked(assetA, assetB string) (bool, error) {
	if err := r.ready(); err != nil {
		return false, err
	}
	a, b := PairKey(assetA, assetB)
	if a == "" || b == "" {
		return false, ErrAssetRequired
	}
	var lock pairLock
	if _, err := r.store.KVGet(pairKey(a, b), &lock); err != nil {
		return false, err
	}
	return lock.Locked, nil
}

// SetPairLock disables or re-enables trading between the two assets in both
// directions.
func (r *Registry) SetPairLock(assetA, assetB string, locked bool) error {
	if err := r.ready(); err != nil {
		return err
	}
	a, b := PairKey(assetA, assetB)
	if a == "" || b == "" {
		return ErrAssetRequired
	}
	if a == b {
		return ErrSamePair
	}
	if err := r.store.KVPut(pairKey(a, b), &pairLock{Locked: locked}); err != nil {
		return err
	}
	r.emitter.Emit(events.LockChanged{
		Scope:  ScopePair,
		Asset:  a,
		AssetB: b,
		Locked: locked,
		Reason: ReasonAdmin,
	})
	return nil
}

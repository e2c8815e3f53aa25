package market

import (
	"math/big"
	"strings"

	"p2pmarket/native/escrow"
	"p2pmarket/native/locks"
	"p2pmarket/native/offers"
	"p2pmarket/native/pricing"
	"p2pmarket/native/reputation"
)

// GetOffer loads an offer by id.
func (e *Engine) GetOffer(id [32]byte) (*offers.Offer, error) {
	var offer *offers.Offer
	err := e.view(func(m modules) error {
		var err error
		offer, err = m.book.Get(id)
		return err
	})
	return offer, err
}

// GetDeal loads a deal by id.
func (e *Engine) GetDeal(id [32]byte) (*escrow.Deal, error) {
	var deal *escrow.Deal
	err := e.view(func(m modules) error {
		var err error
		deal, err = m.deals.Get(id)
		return err
	})
	return deal, err
}

// GetReputation returns the reputation of user for asset. Unknown pairs
// report zero counters.
func (e *Engine) GetReputation(user [20]byte, asset string) (*reputation.Reputation, error) {
	var rep *reputation.Reputation
	err := e.view(func(m modules) error {
		var err error
		rep, err = m.ledger.Get(user, offers.NormalizeAsset(asset))
		return err
	})
	return rep, err
}

// GetLock returns the lock state of (subject, asset).
func (e *Engine) GetLock(subject [20]byte, asset string) (locks.Lock, error) {
	var lock locks.Lock
	err := e.view(func(m modules) error {
		var err error
		lock, err = m.locks.Get(subject, offers.NormalizeAsset(asset))
		return err
	})
	return lock, err
}

// IsPairLocked reports whether trading between the two assets is disabled.
func (e *Engine) IsPairLocked(assetA, assetB string) (bool, error) {
	var locked bool
	err := e.view(func(m modules) error {
		var err error
		locked, err = m.locks.IsPairLocked(offers.NormalizeAsset(assetA), offers.NormalizeAsset(assetB))
		return err
	})
	return locked, err
}

// AllowedTokens lists the tokens account has been granted as an offerer.
func (e *Engine) AllowedTokens(account [20]byte) ([]string, error) {
	var tokens []string
	err := e.view(func(m modules) error {
		var err error
		tokens, err = m.offerers.AllowedTokens(account)
		return err
	})
	return tokens, err
}

// CanOffer reports whether account may post offers selling asset.
func (e *Engine) CanOffer(account [20]byte, asset string) (bool, error) {
	var allowed bool
	err := e.view(func(m modules) error {
		var err error
		allowed, err = m.offerers.CanOffer(account, asset)
		return err
	})
	return allowed, err
}

// AuditorQueue lists escalated deals awaiting auditor.
func (e *Engine) AuditorQueue(auditor [20]byte) ([][32]byte, error) {
	var ids [][32]byte
	err := e.view(func(m modules) error {
		var err error
		ids, err = m.deals.AuditorQueue(auditor)
		return err
	})
	return ids, err
}

// OffersByOwner lists the offers created by owner.
func (e *Engine) OffersByOwner(owner [20]byte) ([][32]byte, error) {
	var ids [][32]byte
	err := e.view(func(m modules) error {
		var err error
		ids, err = m.book.ByOwner(owner)
		return err
	})
	return ids, err
}

// DealsByUser lists the deals in which user is buyer or seller.
func (e *Engine) DealsByUser(user [20]byte) ([][32]byte, error) {
	var ids [][32]byte
	err := e.view(func(m modules) error {
		var err error
		ids, err = m.deals.DealsByUser(user)
		return err
	})
	return ids, err
}

// Commission returns the current commission rate.
func (e *Engine) Commission() (*big.Int, error) {
	var rate *big.Int
	err := e.view(func(m modules) error {
		var err error
		rate, err = e.loadCommission(e.state)
		return err
	})
	return rate, err
}

// Paused reports whether offer creation and fills are suspended.
func (e *Engine) Paused() (bool, error) {
	var paused bool
	err := e.view(func(m modules) error {
		paused = m.pauses.IsPaused(pauseModule)
		return nil
	})
	return paused, err
}

// ResolveAccount maps an alias or address to an account.
func (e *Engine) ResolveAccount(name string) ([20]byte, error) {
	if e == nil || e.directory == nil {
		return [20]byte{}, errNilEngine
	}
	return e.directory.Resolve(strings.TrimSpace(name))
}

// PriceRatio returns buyAmount scaled by 1e18 over sellAmount, or -1 when
// sellAmount is zero.
func PriceRatio(sellAmount, buyAmount *big.Int) (*big.Int, error) {
	return pricing.PriceRatio(sellAmount, buyAmount)
}

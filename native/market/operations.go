package market

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"p2pmarket/core/events"
	coreerrors "p2pmarket/core/errors"
	"p2pmarket/crypto"
	"p2pmarket/native/common"
	"p2pmarket/native/escrow"
	"p2pmarket/native/locks"
	"p2pmarket/native/offers"
	"p2pmarket/native/pricing"
)

// maxCommissionRate is 100% expressed in the commission's fixed-point unit.
var maxCommissionRate = new(big.Int).Mul(big.NewInt(100), pricing.Scale())

func validateRate(rate *big.Int) error {
	if rate == nil || rate.Sign() < 0 || rate.Cmp(maxCommissionRate) > 0 {
		return fmt.Errorf("%w: commission rate must be within [0, %s]", coreerrors.ErrInvalidAmount, maxCommissionRate)
	}
	return nil
}

// CreateOffer posts a new open offer.
func (e *Engine) CreateOffer(ctx context.Context, params offers.CreateParams) (*offers.Offer, error) {
	var created *offers.Offer
	err := e.run(ctx, "CreateOffer", func(s *session) error {
		if err := common.Guard(s.pauses, pauseModule); err != nil {
			return err
		}
		kind := params.Kind
		if kind == 0 {
			kind = offers.KindAsset
		}
		sell, buy, err := offers.ValidateAssets(kind, params.SellAsset, params.BuyAsset, params.IsBuyFiatProxy, params.IsSellFiatProxy)
		if err != nil {
			return err
		}
		if e.pairs != nil && !e.pairs.IsPairAllowed(sell, buy) {
			return fmt.Errorf("%w: pair %s/%s not allowed", coreerrors.ErrInvalidAsset, sell, buy)
		}
		pairLocked, err := s.locks.IsPairLocked(sell, buy)
		if err != nil {
			return err
		}
		if pairLocked {
			return fmt.Errorf("%w: pair %s/%s is locked", coreerrors.ErrInvalidAsset, sell, buy)
		}
		allowed, err := s.offerers.CanOffer(params.Owner, sell)
		if err != nil {
			return err
		}
		if !allowed {
			return fmt.Errorf("%w: %s may not offer %s", coreerrors.ErrUnauthorized, crypto.FormatAccount(params.Owner), sell)
		}
		ownerLocked, err := s.locks.IsLocked(params.Owner, sell)
		if err != nil {
			return err
		}
		if ownerLocked {
			return fmt.Errorf("%w: %s %s", coreerrors.ErrLocked, crypto.FormatAccount(params.Owner), sell)
		}
		params.Kind = kind
		offer, err := s.book.Create(params)
		if err != nil {
			return err
		}
		created = offer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// FillOffer takes amount units of the offer's sell asset on behalf of buyer,
// escrows both on-ledger legs in the vault and opens a pending deal.
func (e *Engine) FillOffer(ctx context.Context, offerID [32]byte, buyer [20]byte, amount *big.Int) (*escrow.Deal, error) {
	var opened *escrow.Deal
	err := e.run(ctx, "FillOffer", func(s *session) error {
		offer, err := s.book.Get(offerID)
		if err != nil {
			return err
		}
		if err := offer.CheckOpen(); err != nil {
			return err
		}
		if err := common.Guard(s.pauses, pauseModule); err != nil {
			return err
		}
		switch buyer {
		case [20]byte{}:
			return fmt.Errorf("%w: buyer required", coreerrors.ErrUnauthorized)
		case offer.Owner:
			return fmt.Errorf("%w: owner cannot fill own offer", coreerrors.ErrUnauthorized)
		case offer.Auditor:
			return fmt.Errorf("%w: auditor cannot fill audited offer", coreerrors.ErrUnauthorized)
		}
		if err := offers.CheckFill(offer, amount); err != nil {
			return err
		}
		if err := e.checkFillLocks(s, offer, buyer); err != nil {
			return err
		}
		rep, err := s.ledger.Get(buyer, offer.BuyAsset)
		if err != nil {
			return err
		}
		if !rep.Meets(offer.Limits.MinReputation) {
			return fmt.Errorf("%w: %s < %s", coreerrors.ErrReputationTooLow, rep.GoodVolume, offer.Limits.MinReputation)
		}

		_, buyAmount, err := s.book.Fill(offerID, amount)
		if err != nil {
			return err
		}
		deal, err := s.deals.Open(escrow.OpenParams{
			OfferID:         offer.ID,
			Seller:          offer.Owner,
			Buyer:           buyer,
			Auditor:         offer.Auditor,
			SellAsset:       offer.SellAsset,
			BuyAsset:        offer.BuyAsset,
			SellAmount:      amount,
			BuyAmount:       buyAmount,
			IsBuyFiatProxy:  offer.IsBuyFiatProxy,
			IsSellFiatProxy: offer.IsSellFiatProxy,
		})
		if err != nil {
			return err
		}
		if err := s.book.AttachDeal(offer.ID, deal.ID); err != nil {
			return err
		}
		for _, leg := range deal.Legs() {
			if err := s.saga.move(leg.Depositor, e.vault, leg.Asset, leg.Amount); err != nil {
				return err
			}
		}
		opened = deal
		return nil
	})
	if err != nil {
		return nil, err
	}
	return opened, nil
}

func (e *Engine) checkFillLocks(s *session, offer *offers.Offer, buyer [20]byte) error {
	pairLocked, err := s.locks.IsPairLocked(offer.SellAsset, offer.BuyAsset)
	if err != nil {
		return err
	}
	if pairLocked {
		return fmt.Errorf("%w: pair %s/%s", coreerrors.ErrLocked, offer.SellAsset, offer.BuyAsset)
	}
	for _, party := range []struct {
		account [20]byte
		asset   string
	}{
		{offer.Owner, offer.SellAsset},
		{buyer, offer.BuyAsset},
	} {
		locked, err := s.locks.IsLocked(party.account, party.asset)
		if err != nil {
			return err
		}
		if locked {
			return fmt.Errorf("%w: %s %s", coreerrors.ErrLocked, crypto.FormatAccount(party.account), party.asset)
		}
	}
	return nil
}

// CancelOffer closes the offer on behalf of its owner. Open deals are not
// affected.
func (e *Engine) CancelOffer(ctx context.Context, offerID [32]byte, caller [20]byte) (*offers.Offer, error) {
	var cancelled *offers.Offer
	err := e.run(ctx, "CancelOffer", func(s *session) error {
		offer, err := s.book.Cancel(offerID, caller)
		if err != nil {
			return err
		}
		cancelled = offer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// Vote records a buyer or seller decision on a pending deal.
func (e *Engine) Vote(ctx context.Context, dealID [32]byte, caller [20]byte, decision escrow.Vote) (*escrow.Outcome, error) {
	var outcome *escrow.Outcome
	err := e.run(ctx, "Vote", func(s *session) error {
		result, err := s.deals.Vote(dealID, caller, decision)
		if err != nil {
			return err
		}
		s.escalated = result.Escalated
		if result.Resolved {
			if err := e.settle(s, result.Deal); err != nil {
				return err
			}
		}
		outcome = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// AuditorVote applies the designated auditor's final decision.
func (e *Engine) AuditorVote(ctx context.Context, dealID [32]byte, caller [20]byte, decision escrow.Vote) (*escrow.Outcome, error) {
	var outcome *escrow.Outcome
	err := e.run(ctx, "AuditorVote", func(s *session) error {
		result, err := s.deals.AuditorVote(dealID, caller, decision)
		if err != nil {
			return err
		}
		s.byAuditor = true
		if err := e.settle(s, result.Deal); err != nil {
			return err
		}
		outcome = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// settle releases the escrowed legs of a resolved deal: to the counterparty
// on success, back to the depositor on failure.
func (e *Engine) settle(s *session, deal *escrow.Deal) error {
	for _, leg := range deal.Legs() {
		to := leg.Depositor
		if deal.IsSuccess {
			to = leg.Beneficiary
		}
		if err := s.saga.move(e.vault, to, leg.Asset, leg.Amount); err != nil {
			return err
		}
	}
	s.resolved = deal
	return nil
}

// SetLock sets or clears the administrative lock on (subject, asset).
func (e *Engine) SetLock(ctx context.Context, caller, subject [20]byte, asset string, locked bool) error {
	return e.run(ctx, "SetLock", func(s *session) error {
		if err := e.authorize(caller, RoleLockAdmin); err != nil {
			return err
		}
		return lockError(s.locks.SetLock(subject, offers.NormalizeAsset(asset), locked))
	})
}

// SetPairLock disables or re-enables trading between two assets.
func (e *Engine) SetPairLock(ctx context.Context, caller [20]byte, assetA, assetB string, locked bool) error {
	return e.run(ctx, "SetPairLock", func(s *session) error {
		if err := e.authorize(caller, RolePairAdmin); err != nil {
			return err
		}
		return lockError(s.locks.SetPairLock(offers.NormalizeAsset(assetA), offers.NormalizeAsset(assetB), locked))
	})
}

func lockError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, locks.ErrAssetRequired), errors.Is(err, locks.ErrSamePair):
		return fmt.Errorf("%w: %w", coreerrors.ErrInvalidAsset, err)
	case errors.Is(err, locks.ErrSubjectRequired):
		return fmt.Errorf("%w: %w", coreerrors.ErrUnauthorized, err)
	default:
		return err
	}
}

// SetOfferer grants or revokes offerer's right to post offers selling token.
// Once a token has an allow-list only listed accounts may offer it.
func (e *Engine) SetOfferer(ctx context.Context, caller, offerer [20]byte, token string, allowed bool) error {
	return e.run(ctx, "SetOfferer", func(s *session) error {
		if err := e.authorize(caller, RolePairAdmin); err != nil {
			return err
		}
		return s.offerers.SetOfferer(token, offerer, allowed)
	})
}

// SetCommission replaces the commission rate reported on resolved deals.
func (e *Engine) SetCommission(ctx context.Context, caller [20]byte, rate *big.Int) error {
	return e.run(ctx, "SetCommission", func(s *session) error {
		if err := e.authorize(caller, RoleCommissionAdmin); err != nil {
			return err
		}
		if err := validateRate(rate); err != nil {
			return err
		}
		if err := s.tx.KVPut(commissionKey, rate); err != nil {
			return err
		}
		s.queue.Emit(events.CommissionChanged{Rate: new(big.Int).Set(rate), Setter: caller})
		return nil
	})
}

// SetPaused toggles the emergency pause of offer creation and fills.
func (e *Engine) SetPaused(ctx context.Context, caller [20]byte, paused bool) error {
	return e.run(ctx, "SetPaused", func(s *session) error {
		if err := e.authorize(caller, RolePauser); err != nil {
			return err
		}
		if err := s.pauses.SetPaused(pauseModule, paused); err != nil {
			return err
		}
		s.queue.Emit(events.MarketPaused{Paused: paused, Setter: caller})
		return nil
	})
}

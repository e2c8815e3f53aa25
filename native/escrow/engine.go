package escrow

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"time"

	"p2pmarket/core/events"
	coreerrors "p2pmarket/core/errors"
	"p2pmarket/crypto"
	"p2pmarket/native/pricing"
	"p2pmarket/native/reputation"
)

var (
	errNilState      = errors.New("escrow engine: state not configured")
	errNilReputation = errors.New("escrow engine: reputation ledger not configured")
	errNilLocks      = errors.New("escrow engine: lock registry not configured")
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVRemove(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	NextSequence(key []byte) (uint64, error)
}

type reputationRecorder interface {
	Record(user [20]byte, asset string, amount *big.Int, success bool) (*reputation.Reputation, error)
}

type lockGate interface {
	IsAdminLocked(subject [20]byte, asset string) (bool, error)
	Hold(subject [20]byte, asset string) error
	Release(subject [20]byte, asset string) error
}

var (
	dealPrefix         = []byte("escrow/deal/")
	dealUserPrefix     = []byte("escrow/user/")
	auditorQueuePrefix = []byte("escrow/auditor/")
	dealSequenceKey    = []byte("escrow/seq")
)

func dealKey(id [32]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", dealPrefix, id))
}

func userIndexKey(user [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", dealUserPrefix, user))
}

func auditorQueueKey(auditor [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", auditorQueuePrefix, auditor))
}

// DealID derives the identifier of a deal opened by buyer against offerID.
func DealID(offerID [32]byte, buyer [20]byte, seq uint64) [32]byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return crypto.DeriveID([]byte("deal"), offerID[:], buyer[:], buf[:])
}

// OpenParams describes the deal created by a fill.
type OpenParams struct {
	OfferID         [32]byte
	Seller          [20]byte
	Buyer           [20]byte
	Auditor         [20]byte
	SellAsset       string
	BuyAsset        string
	SellAmount      *big.Int
	BuyAmount       *big.Int
	IsBuyFiatProxy  bool
	IsSellFiatProxy bool
}

// Outcome reports what a vote did to its deal.
type Outcome struct {
	Deal      *Deal
	Escalated bool
	Resolved  bool
}

// Engine drives the deal vote state machine. Escalated deals are queued for
// the offer's auditor and place dispute holds on both parties until resolved.
type Engine struct {
	state          engineState
	emitter        events.Emitter
	reputation     reputationRecorder
	locks          lockGate
	commissionRate *big.Int
	nowFn          func() int64
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter:        events.NoopEmitter{},
		commissionRate: big.NewInt(0),
		nowFn:          func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetReputation configures the ledger credited when deals resolve.
func (e *Engine) SetReputation(ledger reputationRecorder) { e.reputation = ledger }

// SetLocks configures the registry holding dispute holds.
func (e *Engine) SetLocks(registry lockGate) { e.locks = registry }

// SetCommissionRate configures the rate reported on resolution records.
func (e *Engine) SetCommissionRate(rate *big.Int) { e.commissionRate = cloneBigInt(rate) }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	return uint64(e.nowFn())
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.reputation == nil {
		return errNilReputation
	}
	if e.locks == nil {
		return errNilLocks
	}
	return nil
}

func (e *Engine) storeDeal(deal *Deal) error {
	return e.state.KVPut(dealKey(deal.ID), deal)
}

// Get loads a deal by id.
func (e *Engine) Get(id [32]byte) (*Deal, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	deal := new(Deal)
	ok, err := e.state.KVGet(dealKey(id), deal)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coreerrors.ErrDealNotFound
	}
	return deal, nil
}

// Open stores a new pending deal with all votes unset.
func (e *Engine) Open(params OpenParams) (*Deal, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if params.Buyer == params.Seller {
		return nil, fmt.Errorf("%w: buyer and seller must differ", coreerrors.ErrUnauthorized)
	}
	if params.SellAmount == nil || params.SellAmount.Sign() <= 0 || params.BuyAmount == nil || params.BuyAmount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: deal amounts must be positive", coreerrors.ErrInvalidAmount)
	}
	seq, err := e.state.NextSequence(dealSequenceKey)
	if err != nil {
		return nil, err
	}
	deal := &Deal{
		ID:              DealID(params.OfferID, params.Buyer, seq),
		OfferID:         params.OfferID,
		Seller:          params.Seller,
		Buyer:           params.Buyer,
		Auditor:         params.Auditor,
		SellAsset:       params.SellAsset,
		BuyAsset:        params.BuyAsset,
		SellAmount:      cloneBigInt(params.SellAmount),
		BuyAmount:       cloneBigInt(params.BuyAmount),
		IsBuyFiatProxy:  params.IsBuyFiatProxy,
		IsSellFiatProxy: params.IsSellFiatProxy,
		IsPending:       true,
		CreatedAt:       e.now(),
	}
	if err := e.storeDeal(deal); err != nil {
		return nil, err
	}
	for _, user := range [][20]byte{deal.Seller, deal.Buyer} {
		if err := e.state.KVAppend(userIndexKey(user), deal.ID[:]); err != nil {
			return nil, err
		}
	}
	e.emitter.Emit(events.DealCreated{
		ID:         deal.ID,
		OfferID:    deal.OfferID,
		Seller:     deal.Seller,
		Buyer:      deal.Buyer,
		SellAsset:  deal.SellAsset,
		BuyAsset:   deal.BuyAsset,
		SellAmount: cloneBigInt(deal.SellAmount),
		BuyAmount:  cloneBigInt(deal.BuyAmount),
		CreatedAt:  deal.CreatedAt,
	})
	return deal.Clone(), nil
}

// Vote records a buyer or seller decision. Matching votes resolve the deal;
// conflicting votes escalate it to the auditor once. A party may change its
// vote while the deal is pending.
func (e *Engine) Vote(id [32]byte, caller [20]byte, decision Vote) (*Outcome, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	deal, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	if !decision.Valid() {
		return nil, fmt.Errorf("%w: %s", coreerrors.ErrInvalidVote, decision)
	}
	var role, leg string
	var counterpart Vote
	switch caller {
	case deal.Seller:
		role, leg = "seller", deal.SellAsset
	case deal.Buyer:
		role, leg = "buyer", deal.BuyAsset
	default:
		return nil, fmt.Errorf("%w: caller is not a party to the deal", coreerrors.ErrUnauthorized)
	}
	if !deal.IsPending {
		return nil, coreerrors.ErrNotPending
	}
	locked, err := e.locks.IsAdminLocked(caller, leg)
	if err != nil {
		return nil, err
	}
	if locked {
		return nil, fmt.Errorf("%w: %s %s", coreerrors.ErrLocked, crypto.FormatAccount(caller), leg)
	}

	if role == "seller" {
		deal.SellerVote = decision
		counterpart = deal.BuyerVote
	} else {
		deal.BuyerVote = decision
		counterpart = deal.SellerVote
	}
	e.emitter.Emit(events.DealVoteCast{
		ID:              deal.ID,
		Voter:           caller,
		Role:            role,
		Vote:            decision.String(),
		CounterpartVote: counterpart.String(),
	})

	outcome := &Outcome{}
	switch {
	case deal.SellerVote == VoteApprove && deal.BuyerVote == VoteApprove:
		if err := e.resolve(deal, true, caller, false); err != nil {
			return nil, err
		}
		outcome.Resolved = true
	case deal.SellerVote == VoteReject && deal.BuyerVote == VoteReject:
		if err := e.resolve(deal, false, caller, false); err != nil {
			return nil, err
		}
		outcome.Resolved = true
	case deal.Disagree() && !deal.Escalated:
		if err := e.escalate(deal); err != nil {
			return nil, err
		}
		outcome.Escalated = true
	default:
		if err := e.storeDeal(deal); err != nil {
			return nil, err
		}
	}
	outcome.Deal = deal.Clone()
	return outcome, nil
}

// AuditorVote applies the auditor's final decision to an escalated deal.
func (e *Engine) AuditorVote(id [32]byte, caller [20]byte, decision Vote) (*Outcome, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	deal, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	if !decision.Valid() {
		return nil, fmt.Errorf("%w: %s", coreerrors.ErrInvalidVote, decision)
	}
	if caller != deal.Auditor {
		return nil, fmt.Errorf("%w: caller is not the designated auditor", coreerrors.ErrUnauthorized)
	}
	if !deal.IsPending {
		return nil, coreerrors.ErrNotPending
	}
	if !deal.Escalated {
		return nil, coreerrors.ErrNotEscalated
	}
	deal.AuditorVote = decision
	e.emitter.Emit(events.DealVoteCast{
		ID:              deal.ID,
		Voter:           caller,
		Role:            "auditor",
		Vote:            decision.String(),
		CounterpartVote: fmt.Sprintf("seller:%s,buyer:%s", deal.SellerVote, deal.BuyerVote),
	})
	if err := e.resolve(deal, decision == VoteApprove, caller, true); err != nil {
		return nil, err
	}
	return &Outcome{Deal: deal.Clone(), Resolved: true}, nil
}

func (e *Engine) escalate(deal *Deal) error {
	deal.Escalated = true
	if err := e.storeDeal(deal); err != nil {
		return err
	}
	if err := e.state.KVAppend(auditorQueueKey(deal.Auditor), deal.ID[:]); err != nil {
		return err
	}
	if err := e.locks.Hold(deal.Seller, deal.SellAsset); err != nil {
		return err
	}
	if err := e.locks.Hold(deal.Buyer, deal.BuyAsset); err != nil {
		return err
	}
	e.emitter.Emit(events.DealEscalated{
		ID:         deal.ID,
		OfferID:    deal.OfferID,
		Auditor:    deal.Auditor,
		BuyerVote:  deal.BuyerVote.String(),
		SellerVote: deal.SellerVote.String(),
	})
	return nil
}

// resolve moves the deal to its terminal state, clears any escalation and
// credits reputation for both parties.
func (e *Engine) resolve(deal *Deal, success bool, executor [20]byte, byAuditor bool) error {
	deal.IsPending = false
	deal.IsSuccess = success
	deal.Executor = executor
	deal.ResolvedAt = e.now()
	if err := e.storeDeal(deal); err != nil {
		return err
	}
	if deal.Escalated {
		if err := e.state.KVRemove(auditorQueueKey(deal.Auditor), deal.ID[:]); err != nil {
			return err
		}
		if err := e.locks.Release(deal.Seller, deal.SellAsset); err != nil {
			return err
		}
		if err := e.locks.Release(deal.Buyer, deal.BuyAsset); err != nil {
			return err
		}
	}
	if _, err := e.reputation.Record(deal.Seller, deal.SellAsset, deal.SellAmount, success); err != nil {
		return err
	}
	if _, err := e.reputation.Record(deal.Buyer, deal.BuyAsset, deal.BuyAmount, success); err != nil {
		return err
	}
	commission := big.NewInt(0)
	if success {
		fee, err := pricing.Commission(deal.BuyAmount, e.commissionRate)
		if err != nil {
			return fmt.Errorf("%w: %v", coreerrors.ErrInvalidAmount, err)
		}
		commission = fee
	}
	e.emitter.Emit(events.DealResolved{
		ID:         deal.ID,
		OfferID:    deal.OfferID,
		Success:    success,
		Executor:   executor,
		ByAuditor:  byAuditor,
		SellAsset:  deal.SellAsset,
		BuyAsset:   deal.BuyAsset,
		SellAmount: cloneBigInt(deal.SellAmount),
		BuyAmount:  cloneBigInt(deal.BuyAmount),
		Commission: commission,
	})
	return nil
}

func (e *Engine) loadIDs(key []byte) ([][32]byte, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var raw [][]byte
	if err := e.state.KVGetList(key, &raw); err != nil {
		return nil, err
	}
	ids := make([][32]byte, 0, len(raw))
	for _, entry := range raw {
		var id [32]byte
		copy(id[:], entry)
		ids = append(ids, id)
	}
	return ids, nil
}

// AuditorQueue lists the escalated deals awaiting auditor in escalation order.
func (e *Engine) AuditorQueue(auditor [20]byte) ([][32]byte, error) {
	return e.loadIDs(auditorQueueKey(auditor))
}

// DealsByUser lists the deals in which user is buyer or seller.
func (e *Engine) DealsByUser(user [20]byte) ([][32]byte, error) {
	return e.loadIDs(userIndexKey(user))
}

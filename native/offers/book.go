package offers

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"p2pmarket/core/events"
	coreerrors "p2pmarket/core/errors"
	"p2pmarket/crypto"
	"p2pmarket/native/pricing"
)

type offerStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	NextSequence(key []byte) (uint64, error)
}

var (
	offerPrefix      = []byte("offers/record/")
	offerOwnerPrefix = []byte("offers/owner/")
	offerSequenceKey = []byte("offers/seq")
)

func offerKey(id [32]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", offerPrefix, id))
}

func ownerIndexKey(owner [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", offerOwnerPrefix, owner))
}

// OfferID derives the identifier of the seq-th offer created by owner.
func OfferID(owner [20]byte, seq uint64) [32]byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return crypto.DeriveID([]byte("offer"), owner[:], buf[:])
}

// CreateParams describes a new offer.
type CreateParams struct {
	Kind            Kind
	Owner           [20]byte
	SellAsset       string
	BuyAsset        string
	SellAmount      *big.Int
	BuyAmount       *big.Int
	IsPartial       bool
	IsBuyFiatProxy  bool
	IsSellFiatProxy bool
	Auditor         [20]byte
	Limits          Limits
	Metadata        Metadata
	Description     string
}

// Book stores offers and owns their remaining-amount accounting.
type Book struct {
	store   offerStore
	emitter events.Emitter
	nowFn   func() time.Time
}

// NewBook binds an offer book to the supplied store.
func NewBook(store offerStore) *Book {
	return &Book{store: store, emitter: events.NoopEmitter{}, nowFn: time.Now}
}

// SetEmitter configures the sink receiving offer records.
func (b *Book) SetEmitter(emitter events.Emitter) {
	if b == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	b.emitter = emitter
}

// SetNowFunc overrides the clock used for creation timestamps.
func (b *Book) SetNowFunc(now func() time.Time) {
	if b == nil {
		return
	}
	if now == nil {
		now = time.Now
	}
	b.nowFn = now
}

func (b *Book) ready() error {
	if b == nil || b.store == nil {
		return errors.New("offers: book not configured")
	}
	return nil
}

// ValidateAssets normalises the asset pair and checks it against the offer
// kind and fiat proxy flags.
func ValidateAssets(kind Kind, sellAsset, buyAsset string, isBuyFiatProxy, isSellFiatProxy bool) (string, string, error) {
	if kind == 0 {
		kind = KindAsset
	}
	if !kind.Valid() {
		return "", "", fmt.Errorf("%w: unsupported offer kind %d", coreerrors.ErrInvalidAsset, kind)
	}
	sell := NormalizeAsset(sellAsset)
	buy := NormalizeAsset(buyAsset)
	if sell == "" || buy == "" {
		return "", "", fmt.Errorf("%w: sell and buy assets required", coreerrors.ErrInvalidAsset)
	}
	if sell == buy {
		return "", "", fmt.Errorf("%w: sell and buy assets must differ", coreerrors.ErrInvalidAsset)
	}
	if isBuyFiatProxy && isSellFiatProxy {
		return "", "", fmt.Errorf("%w: at most one leg may be a fiat proxy", coreerrors.ErrInvalidAsset)
	}
	if IsCollectibleAsset(buy) {
		return "", "", fmt.Errorf("%w: collectibles may only be sold", coreerrors.ErrInvalidAsset)
	}
	switch kind {
	case KindCollectible, KindPackable:
		if !IsCollectibleAsset(sell) {
			return "", "", fmt.Errorf("%w: %s offer must sell COLLECTION#tokenId", coreerrors.ErrInvalidAsset, kind)
		}
		if isSellFiatProxy {
			return "", "", fmt.Errorf("%w: %s cannot be delivered off ledger", coreerrors.ErrInvalidAsset, kind)
		}
	case KindAsset:
		if strings.Contains(sell, "#") {
			return "", "", fmt.Errorf("%w: collectible asset on a fungible offer", coreerrors.ErrInvalidAsset)
		}
	}
	return sell, buy, nil
}

// Create validates params and stores a new open offer.
func (b *Book) Create(params CreateParams) (*Offer, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	kind := params.Kind
	if kind == 0 {
		kind = KindAsset
	}
	sell, buy, err := ValidateAssets(kind, params.SellAsset, params.BuyAsset, params.IsBuyFiatProxy, params.IsSellFiatProxy)
	if err != nil {
		return nil, err
	}
	if params.Owner == ([20]byte{}) {
		return nil, fmt.Errorf("%w: owner required", coreerrors.ErrUnauthorized)
	}
	if !isPositive(params.SellAmount) {
		return nil, fmt.Errorf("%w: sell amount must be positive", coreerrors.ErrInvalidAmount)
	}
	if !isPositive(params.BuyAmount) {
		return nil, fmt.Errorf("%w: buy amount must be positive", coreerrors.ErrInvalidAmount)
	}
	if !pricing.Fits(params.SellAmount) || !pricing.Fits(params.BuyAmount) {
		return nil, fmt.Errorf("%w: amounts must fit in 256 bits", coreerrors.ErrInvalidAmount)
	}
	if _, err := pricing.PriceRatio(params.SellAmount, params.BuyAmount); err != nil {
		return nil, fmt.Errorf("%w: price out of range: %v", coreerrors.ErrInvalidAmount, err)
	}
	isPartial := params.IsPartial
	if kind == KindCollectible {
		if params.SellAmount.Cmp(big.NewInt(1)) != 0 {
			return nil, fmt.Errorf("%w: collectible offers sell exactly one unit", coreerrors.ErrInvalidAmount)
		}
		isPartial = false
	}
	limits := params.Limits.clone()
	for _, v := range []*big.Int{limits.MinDealAmount, limits.MaxDealAmount, limits.MinReputation} {
		if v.Sign() < 0 {
			return nil, fmt.Errorf("%w: limits must not be negative", coreerrors.ErrInvalidAmount)
		}
	}
	if limits.MaxDealAmount.Sign() > 0 && limits.MinDealAmount.Cmp(limits.MaxDealAmount) > 0 {
		return nil, fmt.Errorf("%w: min deal exceeds max deal", coreerrors.ErrInvalidAmount)
	}
	if params.Auditor == ([20]byte{}) {
		return nil, fmt.Errorf("%w: auditor required", coreerrors.ErrInvalidAuditor)
	}
	if params.Auditor == params.Owner {
		return nil, fmt.Errorf("%w: owner cannot audit own offer", coreerrors.ErrInvalidAuditor)
	}
	if err := params.Metadata.Validate(); err != nil {
		return nil, err
	}

	seq, err := b.store.NextSequence(offerSequenceKey)
	if err != nil {
		return nil, err
	}
	offer := &Offer{
		ID:                  OfferID(params.Owner, seq),
		Kind:                kind,
		Owner:               params.Owner,
		SellAsset:           sell,
		BuyAsset:            buy,
		InitialSellAmount:   cloneAmount(params.SellAmount),
		InitialBuyAmount:    cloneAmount(params.BuyAmount),
		RemainingSellAmount: cloneAmount(params.SellAmount),
		RemainingBuyAmount:  cloneAmount(params.BuyAmount),
		IsPartial:           isPartial,
		IsBuyFiatProxy:      params.IsBuyFiatProxy,
		IsSellFiatProxy:     params.IsSellFiatProxy,
		Auditor:             params.Auditor,
		Limits:              limits,
		Metadata:            params.Metadata.Clone(),
		Description:         params.Description,
		IsOpen:              true,
		CreatedAt:           uint64(b.nowFn().Unix()),
	}
	if err := b.put(offer); err != nil {
		return nil, err
	}
	if err := b.store.KVAppend(ownerIndexKey(offer.Owner), offer.ID[:]); err != nil {
		return nil, err
	}
	b.emitter.Emit(events.OfferCreated{
		ID:              offer.ID,
		Kind:            offer.Kind.String(),
		Owner:           offer.Owner,
		SellAsset:       offer.SellAsset,
		BuyAsset:        offer.BuyAsset,
		SellAmount:      cloneAmount(offer.InitialSellAmount),
		BuyAmount:       cloneAmount(offer.InitialBuyAmount),
		Price:           offer.Price(),
		PricePerUnit:    offer.PricePerUnit(),
		IsPartial:       offer.IsPartial,
		IsBuyFiatProxy:  offer.IsBuyFiatProxy,
		IsSellFiatProxy: offer.IsSellFiatProxy,
		Auditor:         offer.Auditor,
		MinDealAmount:   cloneAmount(limits.MinDealAmount),
		MaxDealAmount:   cloneAmount(limits.MaxDealAmount),
		MinReputation:   cloneAmount(limits.MinReputation),
		Description:     offer.Description,
		Metadata:        offer.Metadata.Pack(),
		CreatedAt:       offer.CreatedAt,
	})
	return offer.Clone(), nil
}

func (b *Book) put(offer *Offer) error {
	return b.store.KVPut(offerKey(offer.ID), offer)
}

// Get loads an offer by id.
func (b *Book) Get(id [32]byte) (*Offer, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	offer := new(Offer)
	ok, err := b.store.KVGet(offerKey(id), offer)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coreerrors.ErrOfferNotFound
	}
	return offer, nil
}

// ByOwner lists the ids of every offer created by owner in creation order.
func (b *Book) ByOwner(owner [20]byte) ([][32]byte, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	var raw [][]byte
	if err := b.store.KVGetList(ownerIndexKey(owner), &raw); err != nil {
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

// CheckFill applies the amount rules of a fill: positive amount, partial fill
// permission, deal limits and the remaining balance. A fill that takes the
// whole remainder is exempt from the minimum deal size. Amounts above the
// remainder are rejected rather than clamped.
func CheckFill(offer *Offer, requested *big.Int) error {
	if err := offer.CheckOpen(); err != nil {
		return err
	}
	if !isPositive(requested) {
		return fmt.Errorf("%w: fill amount must be positive", coreerrors.ErrInvalidAmount)
	}
	remaining := offer.RemainingSellAmount
	cmp := requested.Cmp(remaining)
	if cmp < 0 && !offer.IsPartial {
		return coreerrors.ErrNotPartial
	}
	minDeal := offer.Limits.MinDealAmount
	if cmp != 0 && minDeal != nil && requested.Cmp(minDeal) < 0 {
		return fmt.Errorf("%w: %s < %s", coreerrors.ErrBelowMinDeal, requested, minDeal)
	}
	maxDeal := offer.Limits.MaxDealAmount
	if maxDeal != nil && maxDeal.Sign() > 0 && requested.Cmp(maxDeal) > 0 {
		return fmt.Errorf("%w: %s > %s", coreerrors.ErrAboveMaxDeal, requested, maxDeal)
	}
	if cmp > 0 {
		return fmt.Errorf("%w: %s exceeds remaining %s", coreerrors.ErrInvalidAmount, requested, remaining)
	}
	return nil
}

// QuoteBuy returns the buy amount owed for requested units of the sell asset.
// The final fill takes the exact residual so both sides reach zero together.
func QuoteBuy(offer *Offer, requested *big.Int) (*big.Int, error) {
	if offer == nil {
		return nil, coreerrors.ErrOfferNotFound
	}
	if requested.Cmp(offer.RemainingSellAmount) == 0 {
		return cloneAmount(offer.RemainingBuyAmount), nil
	}
	amount, err := pricing.Proportional(requested, offer.RemainingBuyAmount, offer.RemainingSellAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coreerrors.ErrInvalidAmount, err)
	}
	if amount.Sign() == 0 {
		return nil, fmt.Errorf("%w: fill too small to price", coreerrors.ErrInvalidAmount)
	}
	return amount, nil
}

// Fill consumes requested units of the offer, returning the updated offer and
// the buy amount owed. The offer closes once nothing remains.
func (b *Book) Fill(id [32]byte, requested *big.Int) (*Offer, *big.Int, error) {
	offer, err := b.Get(id)
	if err != nil {
		return nil, nil, err
	}
	if err := CheckFill(offer, requested); err != nil {
		return nil, nil, err
	}
	buyAmount, err := QuoteBuy(offer, requested)
	if err != nil {
		return nil, nil, err
	}
	offer.RemainingSellAmount = new(big.Int).Sub(offer.RemainingSellAmount, requested)
	offer.RemainingBuyAmount = new(big.Int).Sub(offer.RemainingBuyAmount, buyAmount)
	if offer.RemainingSellAmount.Sign() == 0 && offer.RemainingBuyAmount.Sign() == 0 {
		offer.IsOpen = false
	}
	if err := b.put(offer); err != nil {
		return nil, nil, err
	}
	b.emitter.Emit(events.OfferUpdated{
		ID:                  offer.ID,
		RemainingSellAmount: cloneAmount(offer.RemainingSellAmount),
		RemainingBuyAmount:  cloneAmount(offer.RemainingBuyAmount),
		Price:               offer.Price(),
		PricePerUnit:        offer.PricePerUnit(),
		IsOpen:              offer.IsOpen,
	})
	return offer.Clone(), buyAmount, nil
}

// AttachDeal records dealID against the offer.
func (b *Book) AttachDeal(id [32]byte, dealID [32]byte) error {
	offer, err := b.Get(id)
	if err != nil {
		return err
	}
	for _, existing := range offer.Deals {
		if existing == dealID {
			return nil
		}
	}
	offer.Deals = append(offer.Deals, dealID)
	return b.put(offer)
}

// Cancel closes the offer on behalf of its owner. Remaining amounts are left
// untouched and existing deals are unaffected.
func (b *Book) Cancel(id [32]byte, caller [20]byte) (*Offer, error) {
	offer, err := b.Get(id)
	if err != nil {
		return nil, err
	}
	if caller != offer.Owner {
		return nil, fmt.Errorf("%w: only the owner may cancel", coreerrors.ErrUnauthorized)
	}
	if err := offer.CheckOpen(); err != nil {
		return nil, err
	}
	offer.IsOpen = false
	if err := b.put(offer); err != nil {
		return nil, err
	}
	b.emitter.Emit(events.OfferCancelled{
		ID:                  offer.ID,
		Owner:               offer.Owner,
		RemainingSellAmount: cloneAmount(offer.RemainingSellAmount),
		RemainingBuyAmount:  cloneAmount(offer.RemainingBuyAmount),
	})
	return offer.Clone(), nil
}

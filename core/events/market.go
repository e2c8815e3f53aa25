package events

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"p2pmarket/core/types"
	"p2pmarket/crypto"
)

const (
	TypeOfferCreated      = "market.offer.created"
	TypeOfferUpdated      = "market.offer.updated"
	TypeOfferCancelled    = "market.offer.cancelled"
	TypeDealCreated       = "market.deal.created"
	TypeDealVoteCast      = "market.deal.vote_cast"
	TypeDealEscalated     = "market.deal.escalated"
	TypeDealResolved      = "market.deal.resolved"
	TypeReputationUpdated = "market.reputation.updated"
	TypeLockChanged       = "market.lock.changed"
	TypeCommissionChanged = "market.commission.changed"
	TypeMarketPaused      = "market.paused"
	TypeOffererChanged    = "market.offerer.changed"
)

// OfferCreated is emitted when a new offer is posted to the book.
type OfferCreated struct {
	ID              [32]byte
	Kind            string
	Owner           [20]byte
	SellAsset       string
	BuyAsset        string
	SellAmount      *big.Int
	BuyAmount       *big.Int
	Price           *big.Int
	PricePerUnit    *big.Int
	IsPartial       bool
	IsBuyFiatProxy  bool
	IsSellFiatProxy bool
	Auditor         [20]byte
	MinDealAmount   *big.Int
	MaxDealAmount   *big.Int
	MinReputation   *big.Int
	Description     string
	// Metadata carries the sentinel-packed form consumed by legacy indexers.
	Metadata  []*big.Int
	CreatedAt uint64
}

func (OfferCreated) EventType() string { return TypeOfferCreated }

func (e OfferCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeOfferCreated,
		Attributes: map[string]string{
			"offerId":         hex.EncodeToString(e.ID[:]),
			"kind":            e.Kind,
			"owner":           crypto.FormatAccount(e.Owner),
			"sellAsset":       e.SellAsset,
			"buyAsset":        e.BuyAsset,
			"sellAmount":      formatAmount(e.SellAmount),
			"buyAmount":       formatAmount(e.BuyAmount),
			"price":           formatSigned(e.Price),
			"pricePerUnit":    formatSigned(e.PricePerUnit),
			"isPartial":       strconv.FormatBool(e.IsPartial),
			"isBuyFiatProxy":  strconv.FormatBool(e.IsBuyFiatProxy),
			"isSellFiatProxy": strconv.FormatBool(e.IsSellFiatProxy),
			"auditor":         crypto.FormatAccount(e.Auditor),
			"minDealAmount":   formatAmount(e.MinDealAmount),
			"maxDealAmount":   formatAmount(e.MaxDealAmount),
			"minReputation":   formatAmount(e.MinReputation),
			"description":     e.Description,
			"metadata":        formatList(e.Metadata),
			"createdAt":       uintToString(e.CreatedAt),
		},
	}
}

// OfferUpdated is emitted whenever a fill changes the remaining amounts.
type OfferUpdated struct {
	ID                  [32]byte
	RemainingSellAmount *big.Int
	RemainingBuyAmount  *big.Int
	Price               *big.Int
	PricePerUnit        *big.Int
	IsOpen              bool
}

func (OfferUpdated) EventType() string { return TypeOfferUpdated }

func (e OfferUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeOfferUpdated,
		Attributes: map[string]string{
			"offerId":      hex.EncodeToString(e.ID[:]),
			"sellAmount":   formatAmount(e.RemainingSellAmount),
			"buyAmount":    formatAmount(e.RemainingBuyAmount),
			"price":        formatSigned(e.Price),
			"pricePerUnit": formatSigned(e.PricePerUnit),
			"isOpen":       strconv.FormatBool(e.IsOpen),
		},
	}
}

// OfferCancelled is emitted when the owner withdraws an offer.
type OfferCancelled struct {
	ID                  [32]byte
	Owner               [20]byte
	RemainingSellAmount *big.Int
	RemainingBuyAmount  *big.Int
}

func (OfferCancelled) EventType() string { return TypeOfferCancelled }

func (e OfferCancelled) Event() *types.Event {
	return &types.Event{
		Type: TypeOfferCancelled,
		Attributes: map[string]string{
			"offerId":    hex.EncodeToString(e.ID[:]),
			"owner":      crypto.FormatAccount(e.Owner),
			"sellAmount": formatAmount(e.RemainingSellAmount),
			"buyAmount":  formatAmount(e.RemainingBuyAmount),
		},
	}
}

// DealCreated is emitted when a fill opens a pending deal.
type DealCreated struct {
	ID         [32]byte
	OfferID    [32]byte
	Seller     [20]byte
	Buyer      [20]byte
	SellAsset  string
	BuyAsset   string
	SellAmount *big.Int
	BuyAmount  *big.Int
	CreatedAt  uint64
}

func (DealCreated) EventType() string { return TypeDealCreated }

func (e DealCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeDealCreated,
		Attributes: map[string]string{
			"dealId":     hex.EncodeToString(e.ID[:]),
			"offerId":    hex.EncodeToString(e.OfferID[:]),
			"seller":     crypto.FormatAccount(e.Seller),
			"buyer":      crypto.FormatAccount(e.Buyer),
			"sellAsset":  e.SellAsset,
			"buyAsset":   e.BuyAsset,
			"sellAmount": formatAmount(e.SellAmount),
			"buyAmount":  formatAmount(e.BuyAmount),
			"createdAt":  uintToString(e.CreatedAt),
		},
	}
}

// DealVoteCast is emitted for every party vote. The counterpart's current
// vote is included so indexers can mirror both sides from a single record.
type DealVoteCast struct {
	ID              [32]byte
	Voter           [20]byte
	Role            string
	Vote            string
	CounterpartVote string
}

func (DealVoteCast) EventType() string { return TypeDealVoteCast }

func (e DealVoteCast) Event() *types.Event {
	return &types.Event{
		Type: TypeDealVoteCast,
		Attributes: map[string]string{
			"dealId":          hex.EncodeToString(e.ID[:]),
			"voter":           crypto.FormatAccount(e.Voter),
			"role":            e.Role,
			"vote":            e.Vote,
			"counterpartVote": e.CounterpartVote,
		},
	}
}

// DealEscalated is emitted once when disagreeing votes hand a deal to the
// offer's auditor.
type DealEscalated struct {
	ID         [32]byte
	OfferID    [32]byte
	Auditor    [20]byte
	BuyerVote  string
	SellerVote string
}

func (DealEscalated) EventType() string { return TypeDealEscalated }

func (e DealEscalated) Event() *types.Event {
	return &types.Event{
		Type: TypeDealEscalated,
		Attributes: map[string]string{
			"dealId":     hex.EncodeToString(e.ID[:]),
			"offerId":    hex.EncodeToString(e.OfferID[:]),
			"auditor":    crypto.FormatAccount(e.Auditor),
			"buyerVote":  e.BuyerVote,
			"sellerVote": e.SellerVote,
		},
	}
}

// DealResolved is emitted when a deal reaches a terminal state.
type DealResolved struct {
	ID         [32]byte
	OfferID    [32]byte
	Success    bool
	Executor   [20]byte
	ByAuditor  bool
	SellAsset  string
	BuyAsset   string
	SellAmount *big.Int
	BuyAmount  *big.Int
	Commission *big.Int
}

func (DealResolved) EventType() string { return TypeDealResolved }

func (e DealResolved) Event() *types.Event {
	outcome := "failed"
	if e.Success {
		outcome = "success"
	}
	return &types.Event{
		Type: TypeDealResolved,
		Attributes: map[string]string{
			"dealId":     hex.EncodeToString(e.ID[:]),
			"offerId":    hex.EncodeToString(e.OfferID[:]),
			"outcome":    outcome,
			"executor":   crypto.FormatAccount(e.Executor),
			"byAuditor":  strconv.FormatBool(e.ByAuditor),
			"sellAsset":  e.SellAsset,
			"buyAsset":   e.BuyAsset,
			"sellAmount": formatAmount(e.SellAmount),
			"buyAmount":  formatAmount(e.BuyAmount),
			"commission": formatAmount(e.Commission),
		},
	}
}

// ReputationUpdated is emitted whenever a resolution credits a reputation
// accumulator.
type ReputationUpdated struct {
	User       [20]byte
	Asset      string
	Success    bool
	Amount     *big.Int
	GoodVolume *big.Int
	BadVolume  *big.Int
	TotalDeals uint64
}

func (ReputationUpdated) EventType() string { return TypeReputationUpdated }

func (e ReputationUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeReputationUpdated,
		Attributes: map[string]string{
			"user":       crypto.FormatAccount(e.User),
			"asset":      normalizeAsset(e.Asset),
			"success":    strconv.FormatBool(e.Success),
			"amount":     formatAmount(e.Amount),
			"goodVolume": formatAmount(e.GoodVolume),
			"badVolume":  formatAmount(e.BadVolume),
			"totalDeals": uintToString(e.TotalDeals),
		},
	}
}

// LockChanged is emitted when a subject or pair gate flips.
type LockChanged struct {
	Scope   string
	Subject [20]byte
	Asset   string
	AssetB  string
	Locked  bool
	Reason  string
}

func (LockChanged) EventType() string { return TypeLockChanged }

func (e LockChanged) Event() *types.Event {
	attrs := map[string]string{
		"scope":  e.Scope,
		"asset":  normalizeAsset(e.Asset),
		"locked": strconv.FormatBool(e.Locked),
		"reason": e.Reason,
	}
	if e.Subject != ([20]byte{}) {
		attrs["subject"] = crypto.FormatAccount(e.Subject)
	}
	if strings.TrimSpace(e.AssetB) != "" {
		attrs["assetB"] = normalizeAsset(e.AssetB)
	}
	return &types.Event{Type: TypeLockChanged, Attributes: attrs}
}

// CommissionChanged is emitted when the commission rate is updated.
type CommissionChanged struct {
	Rate   *big.Int
	Setter [20]byte
}

func (CommissionChanged) EventType() string { return TypeCommissionChanged }

func (e CommissionChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeCommissionChanged,
		Attributes: map[string]string{
			"rate":   formatAmount(e.Rate),
			"setter": crypto.FormatAccount(e.Setter),
		},
	}
}

// MarketPaused is emitted when the emergency pause is toggled.
type MarketPaused struct {
	Paused bool
	Setter [20]byte
}

func (MarketPaused) EventType() string { return TypeMarketPaused }

func (e MarketPaused) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketPaused,
		Attributes: map[string]string{
			"paused": strconv.FormatBool(e.Paused),
			"setter": crypto.FormatAccount(e.Setter),
		},
	}
}

// OffererChanged is emitted when an account gains or loses the right to post
// offers selling a token.
type OffererChanged struct {
	Token   string
	Offerer [20]byte
	Allowed bool
}

func (OffererChanged) EventType() string { return TypeOffererChanged }

func (e OffererChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeOffererChanged,
		Attributes: map[string]string{
			"token":   e.Token,
			"offerer": crypto.FormatAccount(e.Offerer),
			"allowed": strconv.FormatBool(e.Allowed),
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatSigned(v *big.Int) string {
	if v == nil {
		return "-1"
	}
	return v.String()
}

func formatList(values []*big.Int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = formatAmount(v)
	}
	return strings.Join(parts, ",")
}

func uintToString(v uint64) string {
	return strconv.FormatUint(v, 10)
}

package offers

import (
	"fmt"
	"math/big"
	"strings"

	coreerrors "p2pmarket/core/errors"
	"p2pmarket/native/pricing"
)

// Kind distinguishes fungible asset offers, single-unit collectible offers
// and packable offers selling many units of one COLLECTION#tokenId.
type Kind uint8

const (
	KindAsset Kind = iota + 1
	KindCollectible
	KindPackable
)

// Valid reports whether the kind value is supported.
func (k Kind) Valid() bool {
	return k == KindAsset || k == KindCollectible || k == KindPackable
}

// SellsToken reports whether the sell asset is a COLLECTION#tokenId.
func (k Kind) SellsToken() bool {
	return k == KindCollectible || k == KindPackable
}

func (k Kind) String() string {
	switch k {
	case KindAsset:
		return "asset"
	case KindCollectible:
		return "collectible"
	case KindPackable:
		return "packable"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind decodes the textual kind used at the RPC boundary. The empty
// string selects KindAsset.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asset":
		return KindAsset, nil
	case "collectible":
		return KindCollectible, nil
	case "packable":
		return KindPackable, nil
	default:
		return 0, fmt.Errorf("%w: unknown offer kind %q", coreerrors.ErrInvalidAsset, s)
	}
}

// Limits bound the size of each fill and the reputation a buyer must hold.
// A zero MaxDealAmount means no upper bound.
type Limits struct {
	MinDealAmount *big.Int
	MaxDealAmount *big.Int
	MinReputation *big.Int
}

func (l Limits) clone() Limits {
	return Limits{
		MinDealAmount: cloneAmount(l.MinDealAmount),
		MaxDealAmount: cloneAmount(l.MaxDealAmount),
		MinReputation: cloneAmount(l.MinReputation),
	}
}

// Offer is a standing request to trade SellAsset for BuyAsset.
type Offer struct {
	ID                  [32]byte
	Kind                Kind
	Owner               [20]byte
	SellAsset           string
	BuyAsset            string
	InitialSellAmount   *big.Int
	InitialBuyAmount    *big.Int
	RemainingSellAmount *big.Int
	RemainingBuyAmount  *big.Int
	IsPartial           bool
	IsBuyFiatProxy      bool
	IsSellFiatProxy     bool
	Auditor             [20]byte
	Limits              Limits
	Metadata            Metadata
	Description         string
	IsOpen              bool
	Deals               [][32]byte
	CreatedAt           uint64
}

// Clone returns a deep copy of the offer.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	clone := *o
	clone.InitialSellAmount = cloneAmount(o.InitialSellAmount)
	clone.InitialBuyAmount = cloneAmount(o.InitialBuyAmount)
	clone.RemainingSellAmount = cloneAmount(o.RemainingSellAmount)
	clone.RemainingBuyAmount = cloneAmount(o.RemainingBuyAmount)
	clone.Limits = o.Limits.clone()
	clone.Metadata = o.Metadata.Clone()
	clone.Deals = append([][32]byte(nil), o.Deals...)
	return &clone
}

// Price returns the current display price. Asset offers report
// remainingBuy × 10^18 / remainingSell; collectible and packable offers report
// the remaining buy amount. All report -1 once nothing remains to sell.
func (o *Offer) Price() *big.Int {
	if o == nil || o.RemainingSellAmount == nil || o.RemainingSellAmount.Sign() == 0 {
		return pricing.UndefinedPrice()
	}
	if o.Kind.SellsToken() {
		return cloneAmount(o.RemainingBuyAmount)
	}
	return o.PricePerUnit()
}

// PricePerUnit returns remainingBuy × 10^18 / remainingSell for every kind,
// or -1 once nothing remains to sell.
func (o *Offer) PricePerUnit() *big.Int {
	if o == nil {
		return pricing.UndefinedPrice()
	}
	price, err := pricing.PriceRatio(o.RemainingSellAmount, o.RemainingBuyAmount)
	if err != nil {
		return pricing.UndefinedPrice()
	}
	return price
}

// CheckOpen returns ErrOfferClosed for terminal offers.
func (o *Offer) CheckOpen() error {
	if o == nil || !o.IsOpen {
		return coreerrors.ErrOfferClosed
	}
	return nil
}

// NormalizeAsset canonicalises an asset identifier. Fungible symbols are
// upper-cased; collectibles keep their token id verbatim and upper-case the
// collection.
func NormalizeAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if collection, token, ok := strings.Cut(trimmed, "#"); ok {
		return strings.ToUpper(strings.TrimSpace(collection)) + "#" + strings.TrimSpace(token)
	}
	return strings.ToUpper(trimmed)
}

// Collection reduces a collectible to its collection symbol. Fungible assets
// are returned normalised.
func Collection(asset string) string {
	asset = NormalizeAsset(asset)
	if base, _, ok := strings.Cut(asset, "#"); ok {
		return base
	}
	return asset
}

// IsCollectibleAsset reports whether asset has the COLLECTION#tokenId form.
func IsCollectibleAsset(asset string) bool {
	collection, token, ok := strings.Cut(asset, "#")
	return ok && collection != "" && token != "" && !strings.Contains(token, "#")
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func isPositive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

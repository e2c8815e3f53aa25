package escrow

import (
	"fmt"
	"math/big"
	"strings"

	coreerrors "p2pmarket/core/errors"
)

// Vote is a party's decision on a deal.
type Vote uint8

const (
	VoteUnset Vote = iota
	VoteApprove
	VoteReject
)

// Valid reports whether v is a castable decision.
func (v Vote) Valid() bool {
	return v == VoteApprove || v == VoteReject
}

func (v Vote) String() string {
	switch v {
	case VoteUnset:
		return "unset"
	case VoteApprove:
		return "approve"
	case VoteReject:
		return "reject"
	default:
		return fmt.Sprintf("vote(%d)", uint8(v))
	}
}

// ParseVote decodes "approve" or "reject".
func ParseVote(s string) (Vote, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve":
		return VoteApprove, nil
	case "reject":
		return VoteReject, nil
	default:
		return VoteUnset, fmt.Errorf("%w: %q", coreerrors.ErrInvalidVote, s)
	}
}

// Deal is one fill of an offer, escrowed until both parties or the auditor
// decide its outcome. IsSuccess is meaningful only once IsPending is false.
type Deal struct {
	ID              [32]byte
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
	SellerVote      Vote
	BuyerVote       Vote
	AuditorVote     Vote
	IsPending       bool
	IsSuccess       bool
	Escalated       bool
	Executor        [20]byte
	CreatedAt       uint64
	ResolvedAt      uint64
}

// Clone returns a deep copy of the deal.
func (d *Deal) Clone() *Deal {
	if d == nil {
		return nil
	}
	clone := *d
	clone.SellAmount = cloneBigInt(d.SellAmount)
	clone.BuyAmount = cloneBigInt(d.BuyAmount)
	return &clone
}

// Status summarises the lifecycle position of the deal.
func (d *Deal) Status() string {
	switch {
	case d == nil:
		return ""
	case !d.IsPending && d.IsSuccess:
		return "success"
	case !d.IsPending:
		return "failed"
	case d.Escalated:
		return "escalated"
	default:
		return "pending"
	}
}

// Disagree reports whether both parties voted and their votes differ.
func (d *Deal) Disagree() bool {
	return d.SellerVote != VoteUnset && d.BuyerVote != VoteUnset && d.SellerVote != d.BuyerVote
}

// Leg is one escrowed transfer of a deal. Funds move from Depositor into the
// vault at fill time and leave the vault to Beneficiary on success or back to
// Depositor on failure.
type Leg struct {
	Asset       string
	Amount      *big.Int
	Depositor   [20]byte
	Beneficiary [20]byte
}

// Legs lists the on-ledger legs of the deal. Fiat proxy legs settle off
// ledger and are omitted.
func (d *Deal) Legs() []Leg {
	if d == nil {
		return nil
	}
	legs := make([]Leg, 0, 2)
	if !d.IsSellFiatProxy && d.SellAmount != nil && d.SellAmount.Sign() > 0 {
		legs = append(legs, Leg{
			Asset:       d.SellAsset,
			Amount:      cloneBigInt(d.SellAmount),
			Depositor:   d.Seller,
			Beneficiary: d.Buyer,
		})
	}
	if !d.IsBuyFiatProxy && d.BuyAmount != nil && d.BuyAmount.Sign() > 0 {
		legs = append(legs, Leg{
			Asset:       d.BuyAsset,
			Amount:      cloneBigInt(d.BuyAmount),
			Depositor:   d.Buyer,
			Beneficiary: d.Seller,
		})
	}
	return legs
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

package rpc

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"p2pmarket/crypto"
	"p2pmarket/native/escrow"
	"p2pmarket/native/locks"
	"p2pmarket/native/offers"
	"p2pmarket/native/reputation"
)

type metadataJSON struct {
	Countries       []string `json:"countries"`
	PaymentMethods  []string `json:"paymentMethods"`
	PaymentAccounts []string `json:"paymentAccounts"`
}

type offerJSON struct {
	ID                  string       `json:"id"`
	Kind                string       `json:"kind"`
	Owner               string       `json:"owner"`
	SellAsset           string       `json:"sellAsset"`
	BuyAsset            string       `json:"buyAsset"`
	InitialSellAmount   string       `json:"initialSellAmount"`
	InitialBuyAmount    string       `json:"initialBuyAmount"`
	RemainingSellAmount string       `json:"remainingSellAmount"`
	RemainingBuyAmount  string       `json:"remainingBuyAmount"`
	Price               string       `json:"price"`
	PricePerUnit        string       `json:"pricePerUnit"`
	IsPartial           bool         `json:"isPartial"`
	IsBuyFiatProxy      bool         `json:"isBuyFiatProxy"`
	IsSellFiatProxy     bool         `json:"isSellFiatProxy"`
	Auditor             string       `json:"auditor"`
	MinDealAmount       string       `json:"minDealAmount"`
	MaxDealAmount       string       `json:"maxDealAmount"`
	MinReputation       string       `json:"minReputation"`
	Metadata            metadataJSON `json:"metadata"`
	Description         string       `json:"description,omitempty"`
	IsOpen              bool         `json:"isOpen"`
	Deals               []string     `json:"deals"`
	CreatedAt           uint64       `json:"createdAt"`
}

type dealJSON struct {
	ID              string `json:"id"`
	OfferID         string `json:"offerId"`
	Seller          string `json:"seller"`
	Buyer           string `json:"buyer"`
	Auditor         string `json:"auditor"`
	SellAsset       string `json:"sellAsset"`
	BuyAsset        string `json:"buyAsset"`
	SellAmount      string `json:"sellAmount"`
	BuyAmount       string `json:"buyAmount"`
	IsBuyFiatProxy  bool   `json:"isBuyFiatProxy"`
	IsSellFiatProxy bool   `json:"isSellFiatProxy"`
	SellerVote      string `json:"sellerVote"`
	BuyerVote       string `json:"buyerVote"`
	AuditorVote     string `json:"auditorVote"`
	Status          string `json:"status"`
	IsPending       bool   `json:"isPending"`
	IsSuccess       bool   `json:"isSuccess"`
	Escalated       bool   `json:"escalated"`
	Executor        string `json:"executor,omitempty"`
	CreatedAt       uint64 `json:"createdAt"`
	ResolvedAt      uint64 `json:"resolvedAt,omitempty"`
}

type outcomeJSON struct {
	Deal      dealJSON `json:"deal"`
	Escalated bool     `json:"escalated"`
	Resolved  bool     `json:"resolved"`
}

type reputationJSON struct {
	User       string `json:"user"`
	Asset      string `json:"asset"`
	GoodVolume string `json:"goodVolume"`
	BadVolume  string `json:"badVolume"`
	TotalDeals uint64 `json:"totalDeals"`
}

type lockJSON struct {
	Subject  string `json:"subject"`
	Asset    string `json:"asset"`
	Admin    bool   `json:"admin"`
	Disputes uint64 `json:"disputes"`
	Locked   bool   `json:"locked"`
}

func formatID(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}

func formatIDs(ids [][32]byte) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, formatID(id))
	}
	return out
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatOptionalAccount(account [20]byte) string {
	if account == ([20]byte{}) {
		return ""
	}
	return crypto.FormatAccount(account)
}

func formatList(values []*big.Int) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, formatAmount(v))
	}
	return out
}

func offerToJSON(offer *offers.Offer) offerJSON {
	return offerJSON{
		ID:                  formatID(offer.ID),
		Kind:                offer.Kind.String(),
		Owner:               crypto.FormatAccount(offer.Owner),
		SellAsset:           offer.SellAsset,
		BuyAsset:            offer.BuyAsset,
		InitialSellAmount:   formatAmount(offer.InitialSellAmount),
		InitialBuyAmount:    formatAmount(offer.InitialBuyAmount),
		RemainingSellAmount: formatAmount(offer.RemainingSellAmount),
		RemainingBuyAmount:  formatAmount(offer.RemainingBuyAmount),
		Price:               offer.Price().String(),
		PricePerUnit:        offer.PricePerUnit().String(),
		IsPartial:           offer.IsPartial,
		IsBuyFiatProxy:      offer.IsBuyFiatProxy,
		IsSellFiatProxy:     offer.IsSellFiatProxy,
		Auditor:             crypto.FormatAccount(offer.Auditor),
		MinDealAmount:       formatAmount(offer.Limits.MinDealAmount),
		MaxDealAmount:       formatAmount(offer.Limits.MaxDealAmount),
		MinReputation:       formatAmount(offer.Limits.MinReputation),
		Metadata: metadataJSON{
			Countries:       formatList(offer.Metadata.Countries),
			PaymentMethods:  formatList(offer.Metadata.PaymentMethods),
			PaymentAccounts: formatList(offer.Metadata.PaymentAccounts),
		},
		Description: offer.Description,
		IsOpen:      offer.IsOpen,
		Deals:       formatIDs(offer.Deals),
		CreatedAt:   offer.CreatedAt,
	}
}

func dealToJSON(deal *escrow.Deal) dealJSON {
	return dealJSON{
		ID:              formatID(deal.ID),
		OfferID:         formatID(deal.OfferID),
		Seller:          crypto.FormatAccount(deal.Seller),
		Buyer:           crypto.FormatAccount(deal.Buyer),
		Auditor:         crypto.FormatAccount(deal.Auditor),
		SellAsset:       deal.SellAsset,
		BuyAsset:        deal.BuyAsset,
		SellAmount:      formatAmount(deal.SellAmount),
		BuyAmount:       formatAmount(deal.BuyAmount),
		IsBuyFiatProxy:  deal.IsBuyFiatProxy,
		IsSellFiatProxy: deal.IsSellFiatProxy,
		SellerVote:      deal.SellerVote.String(),
		BuyerVote:       deal.BuyerVote.String(),
		AuditorVote:     deal.AuditorVote.String(),
		Status:          deal.Status(),
		IsPending:       deal.IsPending,
		IsSuccess:       deal.IsSuccess,
		Escalated:       deal.Escalated,
		Executor:        formatOptionalAccount(deal.Executor),
		CreatedAt:       deal.CreatedAt,
		ResolvedAt:      deal.ResolvedAt,
	}
}

func outcomeToJSON(outcome *escrow.Outcome) outcomeJSON {
	return outcomeJSON{
		Deal:      dealToJSON(outcome.Deal),
		Escalated: outcome.Escalated,
		Resolved:  outcome.Resolved,
	}
}

func reputationToJSON(rep *reputation.Reputation) reputationJSON {
	return reputationJSON{
		User:       crypto.FormatAccount(rep.User),
		Asset:      rep.Asset,
		GoodVolume: formatAmount(rep.GoodVolume),
		BadVolume:  formatAmount(rep.BadVolume),
		TotalDeals: rep.TotalDeals,
	}
}

func lockToJSON(subject [20]byte, asset string, lock locks.Lock) lockJSON {
	return lockJSON{
		Subject:  crypto.FormatAccount(subject),
		Asset:    asset,
		Admin:    lock.Admin,
		Disputes: lock.Disputes,
		Locked:   lock.IsLocked(),
	}
}

// parseID decodes a 0x-prefixed 32-byte identifier.
func parseID(field, raw string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	if trimmed == "" {
		return id, invalidParams(field + " is required")
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil || len(decoded) != len(id) {
		return id, invalidParams(field + " must be a 32-byte hex identifier")
	}
	copy(id[:], decoded)
	return id, nil
}

// parseAmount decodes a non-negative decimal integer. Empty input yields nil
// when optional is set.
func parseAmount(field, raw string, optional bool) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		if optional {
			return nil, nil
		}
		return nil, invalidParams(field + " is required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, invalidParams(fmt.Sprintf("%s must be a base-10 integer", field))
	}
	if value.Sign() < 0 {
		return nil, invalidParams(field + " must not be negative")
	}
	return value, nil
}

func parseAmountList(field string, raw []string) ([]*big.Int, error) {
	out := make([]*big.Int, 0, len(raw))
	for i, entry := range raw {
		value, err := parseAmount(fmt.Sprintf("%s[%d]", field, i), entry, false)
		if err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, nil
}

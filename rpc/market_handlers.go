package rpc

import (
	"context"
	"encoding/json"
	"strings"

	"p2pmarket/crypto"
	"p2pmarket/integrations/journal"
	"p2pmarket/native/escrow"
	"p2pmarket/native/market"
	"p2pmarket/native/offers"
)

type createOfferParams struct {
	Kind            string       `json:"kind"`
	SellAsset       string       `json:"sellAsset"`
	BuyAsset        string       `json:"buyAsset"`
	SellAmount      string       `json:"sellAmount"`
	BuyAmount       string       `json:"buyAmount"`
	IsPartial       bool         `json:"isPartial"`
	IsBuyFiatProxy  bool         `json:"isBuyFiatProxy"`
	IsSellFiatProxy bool         `json:"isSellFiatProxy"`
	Auditor         string       `json:"auditor"`
	MinDealAmount   string       `json:"minDealAmount"`
	MaxDealAmount   string       `json:"maxDealAmount"`
	MinReputation   string       `json:"minReputation"`
	Metadata        metadataJSON `json:"metadata"`
	Description     string       `json:"description"`
}

type fillOfferParams struct {
	OfferID string `json:"offerId"`
	Amount  string `json:"amount"`
}

type offerIDParams struct {
	OfferID string `json:"offerId"`
}

type dealIDParams struct {
	DealID string `json:"dealId"`
}

type voteParams struct {
	DealID string `json:"dealId"`
	Vote   string `json:"vote"`
}

type lockParams struct {
	Subject string `json:"subject"`
	Asset   string `json:"asset"`
	Locked  bool   `json:"locked"`
}

type pairLockParams struct {
	AssetA string `json:"assetA"`
	AssetB string `json:"assetB"`
	Locked bool   `json:"locked"`
}

type offererParams struct {
	Offerer string `json:"offerer"`
	Token   string `json:"token"`
	Allowed bool   `json:"allowed"`
}

type commissionParams struct {
	Rate string `json:"rate"`
}

type pausedParams struct {
	Paused bool `json:"paused"`
}

type accountAssetParams struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
}

type accountParams struct {
	Account string `json:"account"`
}

type priceRatioParams struct {
	SellAmount string `json:"sellAmount"`
	BuyAmount  string `json:"buyAmount"`
}

type recordsParams struct {
	Type     string `json:"type"`
	OfferID  string `json:"offerId"`
	DealID   string `json:"dealId"`
	AfterSeq uint64 `json:"afterSeq"`
	Limit    int    `json:"limit"`
}

type recordJSON struct {
	ID         string            `json:"id"`
	Seq        uint64            `json:"seq"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  int64             `json:"createdAt"`
}

func (s *Server) marketMethods() map[string]method {
	return map[string]method{
		"market_createOffer":    {auth: true, handler: s.handleCreateOffer},
		"market_fillOffer":      {auth: true, handler: s.handleFillOffer},
		"market_cancelOffer":    {auth: true, handler: s.handleCancelOffer},
		"market_vote":           {auth: true, handler: s.handleVote},
		"market_auditorVote":    {auth: true, handler: s.handleAuditorVote},
		"market_setLock":        {auth: true, handler: s.handleSetLock},
		"market_setPairLock":    {auth: true, handler: s.handleSetPairLock},
		"market_setOfferer":     {auth: true, handler: s.handleSetOfferer},
		"market_setCommission":  {auth: true, handler: s.handleSetCommission},
		"market_setPaused":      {auth: true, handler: s.handleSetPaused},
		"market_getOffer":       {handler: s.handleGetOffer},
		"market_getDeal":        {handler: s.handleGetDeal},
		"market_getReputation":  {handler: s.handleGetReputation},
		"market_getLock":        {handler: s.handleGetLock},
		"market_auditorQueue":   {handler: s.handleAuditorQueue},
		"market_offersByOwner":  {handler: s.handleOffersByOwner},
		"market_dealsByUser":    {handler: s.handleDealsByUser},
		"market_allowedTokens":  {handler: s.handleAllowedTokens},
		"market_priceRatio":     {handler: s.handlePriceRatio},
		"market_commission":     {handler: s.handleCommission},
		"market_resolveAccount": {handler: s.handleResolveAccount},
	}
}

func decodeParams(raw json.RawMessage, out interface{}) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return invalidParams(err.Error())
	}
	return nil
}

// resolve maps an alias or address parameter to an account.
func (s *Server) resolve(field, raw string) ([20]byte, error) {
	if strings.TrimSpace(raw) == "" {
		return [20]byte{}, invalidParams(field + " is required")
	}
	account, err := s.engine.ResolveAccount(raw)
	if err != nil {
		return [20]byte{}, invalidParams(field + ": " + err.Error())
	}
	return account, nil
}

func (s *Server) handleCreateOffer(ctx context.Context, caller [20]byte, raw json.RawMessage) (interface{}, error) {
	var params createOfferParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	kind, err := offers.ParseKind(params.Kind)
	if err != nil {
		return nil, err
	}
	sellAmount, err := parseAmount("sellAmount", params.SellAmount, false)
	if err != nil {
		return nil, err
	}
	buyAmount, err := parseAmount("buyAmount", params.BuyAmount, false)
	if err != nil {
		return nil, err
	}
	var auditor [20]byte
	if strings.TrimSpace(params.Auditor) != "" {
		if auditor, err = s.resolve("auditor", params.Auditor); err != nil {
			return nil, err
		}
	}
	var limits offers.Limits
	if limits.MinDealAmount, err = parseAmount("minDealAmount", params.MinDealAmount, true); err != nil {
		return nil, err
	}
	if limits.MaxDealAmount, err = parseAmount("maxDealAmount", params.MaxDealAmount, true); err != nil {
		return nil, err
	}
	if limits.MinReputation, err = parseAmount("minReputation", params.MinReputation, true); err != nil {
		return nil, err
	}
	var metadata offers.Metadata
	if metadata.Countries, err = parseAmountList("countries", params.Metadata.Countries); err != nil {
		return nil, err
	}
	if metadata.PaymentMethods, err = parseAmountList("paymentMethods", params.Metadata.PaymentMethods); err != nil {
		return nil, err
	}
	if metadata.PaymentAccounts, err = parseAmountList("paymentAccounts", params.Metadata.PaymentAccounts); err != nil {
		return nil, err
	}
	offer, err := s.engine.CreateOffer(ctx, offers.CreateParams{
		Kind:            kind,
		Owner:           caller,
		SellAsset:       params.SellAsset,
		BuyAsset:        params.BuyAsset,
		SellAmount:      sellAmount,
		BuyAmount:       buyAmount,
		IsPartial:       params.IsPartial,
		IsBuyFiatProxy:  params.IsBuyFiatProxy,
		IsSellFiatProxy: params.IsSellFiatProxy,
		Auditor:         auditor,
		Limits:          limits,
		Metadata:        metadata,
		Description:     params.Description,
	})
	if err != nil {
		return nil, err
	}
	return offerToJSON(offer), nil
}

func (s *Server) handleFillOffer(ctx context.Context, caller [20]byte, raw json.RawMessage) (interface{}, error) {
	var params fillOfferParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	offerID, err := parseID("offerId", params.OfferID)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", params.Amount, false)
	if err != nil {
		return nil, err
	}
	deal, err := s.engine.FillOffer(ctx, offerID, caller, amount)
	if err != nil {
		return nil, err
	}
	return dealToJSON(deal), nil
}

func (s *Server) handleCancelOffer(ctx context.Context, caller [20]byte, raw json.RawMessage) (interface{}, error) {
	var params offerIDParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	offerID, err := parseID("offerId", params.OfferID)
	if err != nil {
		return nil, err
	}
	offer, err := s.engine.CancelOffer(ctx, offerID, caller)
	if err != nil {
		return nil, err
	}
	return offerToJSON(offer), nil
}

func parseVoteParams(raw json.RawMessage) ([32]byte, escrow.Vote, error) {
	var params voteParams
	if err := decodeParams(raw, &params); err != nil {
		return [32]byte{}, escrow.VoteUnset, err
	}
	dealID, err := parseID("dealId", params.DealID)
	if err != nil {
		return [32]byte{}, escrow.VoteUnset, err
	}
	vote, err := escrow.ParseVote(params.Vote)
	if err != nil {
		return [32]byte{}, escrow.VoteUnset, err
	}
	return dealID, vote, nil
}

func (s *Server) handleVote(ctx context.Context, caller [20]byte, raw json.RawMessage) (interface{}, error) {
	dealID, vote, err := parseVoteParams(raw)
	if err != nil {
		return nil, err
	}
	outcome, err := s.engine.Vote(ctx, dealID, caller, vote)
	if err != nil {
		return nil, err
	}
	return outcomeToJSON(outcome), nil
}

func (s *Server) handleAuditorVote(ctx context.Context, caller [20]byte, raw json.RawMessage) (interface{}, error) {
	dealID, vote, err := parseVoteParams(raw)
	if err != nil {
		return nil, err
	}
	outcome, err := s.engine.AuditorVote(ctx, dealID, caller, vote)
	if err != nil {
		return nil, err
	}
	return outcomeToJSON(outcome), nil
}

func (s *Server) handleSetLock(ctx context.Context, caller [20]byte, raw json.RawMessage) (interface{}, error) {
	var params lockParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	subject, err := s.resolve("subject", params.Subject)
	if err != nil {
		return nil, err
	}
	if err := s.engine.SetLock(ctx, caller, subject, params.Asset, params.Locked); err != nil {
		return nil, err
	}
	lock, err := s.engine.GetLock(subject, params.Asset)
	if err != nil {
		return nil, err
	}
	return lockToJSON(subject, offers.NormalizeAsset(params.Asset), lock), nil
}

func (s *Server) handleSetPairLock(ctx context.Context, caller [20]byte, raw json.RawMessage) (interface{}, error) {
	var params pairLockParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if err := s.engine.SetPairLock(ctx, caller, params.AssetA, params.AssetB, params.Locked); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"assetA": offers.NormalizeAsset(params.AssetA),
		"assetB": offers.NormalizeAsset(params.AssetB),
		"locked": params.Locked,
	}, nil
}

func (s *Server) handleSetOfferer(ctx context.Context, caller [20]byte, raw json.RawMessage) (interface{}, error) {
	var params offererParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	offerer, err := s.resolve("offerer", params.Offerer)
	if err != nil {
		return nil, err
	}
	if err := s.engine.SetOfferer(ctx, caller, offerer, params.Token, params.Allowed); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"offerer": crypto.FormatAccount(offerer),
		"token":   offers.Collection(params.Token),
		"allowed": params.Allowed,
	}, nil
}

func (s *Server) handleAllowedTokens(_ context.Context, _ [20]byte, raw json.RawMessage) (interface{}, error) {
	var params accountParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	account, err := s.resolve("account", params.Account)
	if err != nil {
		return nil, err
	}
	tokens, err := s.engine.AllowedTokens(account)
	if err != nil {
		return nil, err
	}
	if tokens == nil {
		tokens = []string{}
	}
	return map[string]interface{}{
		"account": crypto.FormatAccount(account),
		"tokens":  tokens,
	}, nil
}

func (s *Server) handleSetCommission(ctx context.Context, caller [20]byte, raw json.RawMessage) (interface{}, error) {
	var params commissionParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	rate, err := parseAmount("rate", params.Rate, false)
	if err != nil {
		return nil, err
	}
	if err := s.engine.SetCommission(ctx, caller, rate); err != nil {
		return nil, err
	}
	return map[string]string{"rate": rate.String()}, nil
}

func (s *Server) handleSetPaused(ctx context.Context, caller [20]byte, raw json.RawMessage) (interface{}, error) {
	var params pausedParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if err := s.engine.SetPaused(ctx, caller, params.Paused); err != nil {
		return nil, err
	}
	return map[string]bool{"paused": params.Paused}, nil
}

func (s *Server) handleGetOffer(_ context.Context, _ [20]byte, raw json.RawMessage) (interface{}, error) {
	var params offerIDParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	offerID, err := parseID("offerId", params.OfferID)
	if err != nil {
		return nil, err
	}
	offer, err := s.engine.GetOffer(offerID)
	if err != nil {
		return nil, err
	}
	return offerToJSON(offer), nil
}

func (s *Server) handleGetDeal(_ context.Context, _ [20]byte, raw json.RawMessage) (interface{}, error) {
	var params dealIDParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	dealID, err := parseID("dealId", params.DealID)
	if err != nil {
		return nil, err
	}
	deal, err := s.engine.GetDeal(dealID)
	if err != nil {
		return nil, err
	}
	return dealToJSON(deal), nil
}

func (s *Server) handleGetReputation(_ context.Context, _ [20]byte, raw json.RawMessage) (interface{}, error) {
	var params accountAssetParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	user, err := s.resolve("account", params.Account)
	if err != nil {
		return nil, err
	}
	rep, err := s.engine.GetReputation(user, params.Asset)
	if err != nil {
		return nil, err
	}
	return reputationToJSON(rep), nil
}

func (s *Server) handleGetLock(_ context.Context, _ [20]byte, raw json.RawMessage) (interface{}, error) {
	var params accountAssetParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	subject, err := s.resolve("account", params.Account)
	if err != nil {
		return nil, err
	}
	lock, err := s.engine.GetLock(subject, params.Asset)
	if err != nil {
		return nil, err
	}
	return lockToJSON(subject, offers.NormalizeAsset(params.Asset), lock), nil
}

func (s *Server) handleAuditorQueue(_ context.Context, _ [20]byte, raw json.RawMessage) (interface{}, error) {
	var params accountParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	auditor, err := s.resolve("account", params.Account)
	if err != nil {
		return nil, err
	}
	ids, err := s.engine.AuditorQueue(auditor)
	if err != nil {
		return nil, err
	}
	return formatIDs(ids), nil
}

func (s *Server) handleOffersByOwner(_ context.Context, _ [20]byte, raw json.RawMessage) (interface{}, error) {
	var params accountParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	owner, err := s.resolve("account", params.Account)
	if err != nil {
		return nil, err
	}
	ids, err := s.engine.OffersByOwner(owner)
	if err != nil {
		return nil, err
	}
	return formatIDs(ids), nil
}

func (s *Server) handleDealsByUser(_ context.Context, _ [20]byte, raw json.RawMessage) (interface{}, error) {
	var params accountParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	user, err := s.resolve("account", params.Account)
	if err != nil {
		return nil, err
	}
	ids, err := s.engine.DealsByUser(user)
	if err != nil {
		return nil, err
	}
	return formatIDs(ids), nil
}

func (s *Server) handlePriceRatio(_ context.Context, _ [20]byte, raw json.RawMessage) (interface{}, error) {
	var params priceRatioParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	sellAmount, err := parseAmount("sellAmount", params.SellAmount, false)
	if err != nil {
		return nil, err
	}
	buyAmount, err := parseAmount("buyAmount", params.BuyAmount, false)
	if err != nil {
		return nil, err
	}
	price, err := market.PriceRatio(sellAmount, buyAmount)
	if err != nil {
		return nil, err
	}
	return map[string]string{"price": price.String()}, nil
}

func (s *Server) handleCommission(_ context.Context, _ [20]byte, _ json.RawMessage) (interface{}, error) {
	rate, err := s.engine.Commission()
	if err != nil {
		return nil, err
	}
	paused, err := s.engine.Paused()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"rate": rate.String(), "paused": paused}, nil
}

func (s *Server) handleResolveAccount(_ context.Context, _ [20]byte, raw json.RawMessage) (interface{}, error) {
	var params accountParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	account, err := s.resolve("account", params.Account)
	if err != nil {
		return nil, err
	}
	return map[string]string{"account": formatOptionalAccount(account)}, nil
}

func (s *Server) handleRecords(ctx context.Context, _ [20]byte, raw json.RawMessage) (interface{}, error) {
	var params recordsParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.Limit < 0 {
		return nil, invalidParams("limit must not be negative")
	}
	records, err := s.journal.List(ctx, journal.Filter{
		Type:     strings.TrimSpace(params.Type),
		OfferID:  recordID(params.OfferID),
		DealID:   recordID(params.DealID),
		AfterSeq: params.AfterSeq,
		Limit:    params.Limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]recordJSON, 0, len(records))
	for _, record := range records {
		out = append(out, recordJSON{
			ID:         record.ID.String(),
			Seq:        record.Seq,
			Type:       record.Type,
			Attributes: record.Attributes,
			CreatedAt:  record.CreatedAt.Unix(),
		})
	}
	return out, nil
}

// recordID matches the unprefixed lower-case hex used in record attributes.
func recordID(raw string) string {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	return strings.TrimPrefix(trimmed, "0x")
}

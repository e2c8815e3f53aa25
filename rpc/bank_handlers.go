package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	coreerrors "p2pmarket/core/errors"
	"p2pmarket/native/market"
)

type depositParams struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

func (s *Server) bankMethods() map[string]method {
	methods := map[string]method{
		"bank_balance": {handler: s.handleBalance},
	}
	if s.faucet {
		methods["bank_deposit"] = method{auth: true, handler: s.handleDeposit}
	}
	return methods
}

func (s *Server) handleBalance(_ context.Context, _ [20]byte, raw json.RawMessage) (interface{}, error) {
	var params accountAssetParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	account, err := s.resolve("account", params.Account)
	if err != nil {
		return nil, err
	}
	balance, err := s.bank.Balance(account, params.Asset)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"account": formatOptionalAccount(account),
		"asset":   params.Asset,
		"balance": formatAmount(balance),
	}, nil
}

// handleDeposit mints funds into an account. It is only registered when the
// faucet is enabled and requires the pauser role.
func (s *Server) handleDeposit(_ context.Context, caller [20]byte, raw json.RawMessage) (interface{}, error) {
	if !s.engine.HasRole(caller, market.RolePauser) {
		return nil, fmt.Errorf("%w: %s role required", coreerrors.ErrUnauthorized, market.RolePauser)
	}
	var params depositParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	account, err := s.resolve("account", params.Account)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", params.Amount, false)
	if err != nil {
		return nil, err
	}
	if err := s.bank.Deposit(account, params.Asset, amount); err != nil {
		return nil, err
	}
	balance, err := s.bank.Balance(account, params.Asset)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"account": formatOptionalAccount(account),
		"asset":   params.Asset,
		"balance": formatAmount(balance),
	}, nil
}

package rpc

import (
	"errors"
	"net/http"

	coreerrors "p2pmarket/core/errors"
	"p2pmarket/native/bank"
	"p2pmarket/observability"
)

// Market rejection codes. Each taxonomy kind keeps a stable code so clients
// can branch without parsing messages.
const (
	codeInvalidAsset     = -32101
	codeInvalidAmount    = -32102
	codeOfferClosed      = -32103
	codeNotPartial       = -32104
	codeBelowMinDeal     = -32105
	codeAboveMaxDeal     = -32106
	codeReputationTooLow = -32107
	codeForbidden        = -32108
	codeNotPending       = -32109
	codeLocked           = -32110
	codeCustodyRejected  = -32111
	codePaused           = -32112
	codeNotFound         = -32113
	codeInvalidVote      = -32114
	codeNotEscalated     = -32115
	codeInvalidAuditor   = -32116
	codeInvalidMetadata  = -32117
)

var marketCodes = []struct {
	err    error
	code   int
	status int
}{
	{coreerrors.ErrInvalidAsset, codeInvalidAsset, http.StatusBadRequest},
	{coreerrors.ErrInvalidAmount, codeInvalidAmount, http.StatusBadRequest},
	{coreerrors.ErrOfferClosed, codeOfferClosed, http.StatusConflict},
	{coreerrors.ErrNotPartial, codeNotPartial, http.StatusConflict},
	{coreerrors.ErrBelowMinDeal, codeBelowMinDeal, http.StatusConflict},
	{coreerrors.ErrAboveMaxDeal, codeAboveMaxDeal, http.StatusConflict},
	{coreerrors.ErrReputationTooLow, codeReputationTooLow, http.StatusConflict},
	{coreerrors.ErrUnauthorized, codeForbidden, http.StatusForbidden},
	{coreerrors.ErrNotPending, codeNotPending, http.StatusConflict},
	{coreerrors.ErrLocked, codeLocked, http.StatusConflict},
	{coreerrors.ErrCustodyRejected, codeCustodyRejected, http.StatusConflict},
	{coreerrors.ErrPaused, codePaused, http.StatusConflict},
	{coreerrors.ErrOfferNotFound, codeNotFound, http.StatusNotFound},
	{coreerrors.ErrDealNotFound, codeNotFound, http.StatusNotFound},
	{coreerrors.ErrInvalidVote, codeInvalidVote, http.StatusBadRequest},
	{coreerrors.ErrNotEscalated, codeNotEscalated, http.StatusConflict},
	{coreerrors.ErrInvalidAuditor, codeInvalidAuditor, http.StatusBadRequest},
	{coreerrors.ErrInvalidMetadata, codeInvalidMetadata, http.StatusBadRequest},
}

// paramError marks a malformed request parameter.
type paramError struct {
	msg string
}

func (e *paramError) Error() string { return e.msg }

func invalidParams(msg string) error { return &paramError{msg: msg} }

func (s *Server) toRPCError(err error) (int, *RPCError) {
	var pErr *paramError
	if errors.As(err, &pErr) {
		return http.StatusBadRequest, &RPCError{Code: codeInvalidParams, Message: "invalid_params", Data: pErr.msg}
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return http.StatusBadRequest, rpcErr
	}
	for _, kind := range marketCodes {
		if errors.Is(err, kind.err) {
			return kind.status, &RPCError{Code: kind.code, Message: observability.Outcome(err), Data: err.Error()}
		}
	}
	switch {
	case errors.Is(err, bank.ErrInvalidAmount), errors.Is(err, bank.ErrAssetRequired):
		return http.StatusBadRequest, &RPCError{Code: codeInvalidParams, Message: "invalid_params", Data: err.Error()}
	case errors.Is(err, bank.ErrInsufficientBalance),
		errors.Is(err, bank.ErrLimitExceeded),
		errors.Is(err, bank.ErrDestinationNotAllowed):
		return http.StatusConflict, &RPCError{Code: codeCustodyRejected, Message: "custody_rejected", Data: err.Error()}
	}
	return http.StatusInternalServerError, &RPCError{Code: codeServerError, Message: "internal error", Data: err.Error()}
}

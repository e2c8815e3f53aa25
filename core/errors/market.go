package errors

import stderrors "errors"

// Rejection kinds surfaced by the market engine. Callers match them with
// errors.Is; wrapped variants carry additional context.
var (
	ErrInvalidAsset     = stderrors.New("market: invalid asset")
	ErrInvalidAmount    = stderrors.New("market: invalid amount")
	ErrOfferClosed      = stderrors.New("market: offer closed")
	ErrNotPartial       = stderrors.New("market: offer does not accept partial fills")
	ErrBelowMinDeal     = stderrors.New("market: amount below minimum deal")
	ErrAboveMaxDeal     = stderrors.New("market: amount above maximum deal")
	ErrReputationTooLow = stderrors.New("market: reputation too low")
	ErrUnauthorized     = stderrors.New("market: unauthorized")
	ErrNotPending       = stderrors.New("market: deal not pending")
	ErrLocked           = stderrors.New("market: locked")
	ErrCustodyRejected  = stderrors.New("market: custody rejected transfer")
	ErrPaused           = stderrors.New("market: paused")
)

var (
	ErrOfferNotFound   = stderrors.New("market: offer not found")
	ErrDealNotFound    = stderrors.New("market: deal not found")
	ErrInvalidVote     = stderrors.New("market: invalid vote")
	ErrNotEscalated    = stderrors.New("market: deal not escalated")
	ErrInvalidAuditor  = stderrors.New("market: invalid auditor")
	ErrNotConfigured   = stderrors.New("market: engine not configured")
	ErrInvalidMetadata = stderrors.New("market: invalid metadata")
)

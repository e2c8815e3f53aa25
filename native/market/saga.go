package market

import (
	"fmt"
	"log/slog"
	"math/big"

	coreerrors "p2pmarket/core/errors"
	"p2pmarket/crypto"
	"p2pmarket/observability"
)

type movementKind uint8

const (
	movementDebit movementKind = iota + 1
	movementCredit
)

type movement struct {
	kind    movementKind
	account [20]byte
	asset   string
	amount  *big.Int
}

// saga journals custody movements applied by one operation so they can be
// undone if the operation aborts.
type saga struct {
	custody Custody
	applied []movement
	logger  *slog.Logger
	metrics *observability.MarketEngineMetrics
}

func (s *saga) debit(account [20]byte, asset string, amount *big.Int) error {
	if err := s.custody.Debit(account, asset, amount); err != nil {
		return fmt.Errorf("%w: debit %s %s from %s: %w", coreerrors.ErrCustodyRejected, amount, asset, crypto.FormatAccount(account), err)
	}
	s.applied = append(s.applied, movement{kind: movementDebit, account: account, asset: asset, amount: new(big.Int).Set(amount)})
	return nil
}

func (s *saga) credit(account [20]byte, asset string, amount *big.Int) error {
	if err := s.custody.Credit(account, asset, amount); err != nil {
		return fmt.Errorf("%w: credit %s %s to %s: %w", coreerrors.ErrCustodyRejected, amount, asset, crypto.FormatAccount(account), err)
	}
	s.applied = append(s.applied, movement{kind: movementCredit, account: account, asset: asset, amount: new(big.Int).Set(amount)})
	return nil
}

// move transfers amount of asset from one account to another.
func (s *saga) move(from, to [20]byte, asset string, amount *big.Int) error {
	if err := s.debit(from, asset, amount); err != nil {
		return err
	}
	return s.credit(to, asset, amount)
}

// compensate reverses every applied movement, newest first.
func (s *saga) compensate() {
	reverser, exact := s.custody.(Reverser)
	for i := len(s.applied) - 1; i >= 0; i-- {
		m := s.applied[i]
		var err error
		switch {
		case m.kind == movementDebit && exact:
			err = reverser.ReverseDebit(m.account, m.asset, m.amount)
		case m.kind == movementDebit:
			err = s.custody.Credit(m.account, m.asset, m.amount)
		case exact:
			err = reverser.ReverseCredit(m.account, m.asset, m.amount)
		default:
			err = s.custody.Debit(m.account, m.asset, m.amount)
		}
		s.metrics.RecordCompensation(err == nil)
		if err != nil {
			s.logger.Error("custody compensation failed",
				slog.String("account", crypto.FormatAccount(m.account)),
				slog.String("asset", m.asset),
				slog.String("amount", m.amount.String()),
				slog.Any("error", err))
		}
	}
	s.applied = nil
}

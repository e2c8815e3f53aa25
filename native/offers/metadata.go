package offers

import (
	"fmt"
	"math/big"

	coreerrors "p2pmarket/core/errors"
)

// Metadata holds the three ordered attribute lists attached to an offer.
type Metadata struct {
	Countries       []*big.Int
	PaymentMethods  []*big.Int
	PaymentAccounts []*big.Int
}

// Clone returns a deep copy of the metadata.
func (m Metadata) Clone() Metadata {
	return Metadata{
		Countries:       cloneList(m.Countries),
		PaymentMethods:  cloneList(m.PaymentMethods),
		PaymentAccounts: cloneList(m.PaymentAccounts),
	}
}

// Validate rejects zero or negative entries, which would collide with the
// list terminator of the packed form.
func (m Metadata) Validate() error {
	lists := []struct {
		name   string
		values []*big.Int
	}{
		{"country", m.Countries},
		{"payment method", m.PaymentMethods},
		{"payment account", m.PaymentAccounts},
	}
	for _, list := range lists {
		for i, v := range list.values {
			if !isPositive(v) {
				return fmt.Errorf("%w: %s %d must be positive", coreerrors.ErrInvalidAmount, list.name, i)
			}
		}
	}
	return nil
}

// Pack encodes the metadata as countries, 0, methods, 0, accounts, 0.
func (m Metadata) Pack() []*big.Int {
	out := make([]*big.Int, 0, len(m.Countries)+len(m.PaymentMethods)+len(m.PaymentAccounts)+3)
	for _, list := range [][]*big.Int{m.Countries, m.PaymentMethods, m.PaymentAccounts} {
		for _, v := range list {
			out = append(out, cloneAmount(v))
		}
		out = append(out, big.NewInt(0))
	}
	return out
}

// UnpackMetadata decodes the sentinel-terminated form produced by Pack. The
// input must contain exactly three terminators and end with the last one.
func UnpackMetadata(packed []*big.Int) (Metadata, error) {
	var lists [3][]*big.Int
	idx := 0
	for _, v := range packed {
		if v == nil || v.Sign() < 0 {
			return Metadata{}, fmt.Errorf("%w: negative metadata value", coreerrors.ErrInvalidMetadata)
		}
		if idx >= len(lists) {
			return Metadata{}, fmt.Errorf("%w: values after final terminator", coreerrors.ErrInvalidMetadata)
		}
		if v.Sign() == 0 {
			idx++
			continue
		}
		lists[idx] = append(lists[idx], new(big.Int).Set(v))
	}
	if idx != len(lists) {
		return Metadata{}, fmt.Errorf("%w: expected 3 terminators, found %d", coreerrors.ErrInvalidMetadata, idx)
	}
	return Metadata{
		Countries:       lists[0],
		PaymentMethods:  lists[1],
		PaymentAccounts: lists[2],
	}, nil
}

func cloneList(list []*big.Int) []*big.Int {
	if len(list) == 0 {
		return nil
	}
	out := make([]*big.Int, len(list))
	for i, v := range list {
		out[i] = cloneAmount(v)
	}
	return out
}

// Package pricing holds the fixed-point arithmetic shared by offer creation,
// fills and settlement reporting.
package pricing

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	// ErrOverflow is returned when an operand or intermediate product does not
	// fit in 256 bits.
	ErrOverflow = errors.New("pricing: arithmetic overflow")
	// ErrNegative is returned for negative operands.
	ErrNegative = errors.New("pricing: negative operand")
	// ErrDivisionByZero is returned when a divisor is zero.
	ErrDivisionByZero = errors.New("pricing: division by zero")
)

var (
	scale       = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	percentBase = new(big.Int).Mul(big.NewInt(100), scale)
	// undefinedPrice marks a ratio whose sell side is zero.
	undefinedPrice = big.NewInt(-1)
)

// Scale returns the 10^18 fixed-point unit used for price ratios and rates.
func Scale() *big.Int { return new(big.Int).Set(scale) }

// UndefinedPrice returns the sentinel reported when no price exists.
func UndefinedPrice() *big.Int { return new(big.Int).Set(undefinedPrice) }

// IsUndefined reports whether price is the undefined sentinel.
func IsUndefined(price *big.Int) bool {
	return price == nil || price.Sign() < 0
}

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, ErrNegative
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// Fits reports whether v is non-negative and representable in 256 bits.
func Fits(v *big.Int) bool {
	_, err := toUint256(v)
	return err == nil
}

// MulDiv computes x*y/d truncating toward zero. The intermediate product is
// computed at 512 bits so only a quotient exceeding 256 bits overflows.
func MulDiv(x, y, d *big.Int) (*big.Int, error) {
	ux, err := toUint256(x)
	if err != nil {
		return nil, err
	}
	uy, err := toUint256(y)
	if err != nil {
		return nil, err
	}
	ud, err := toUint256(d)
	if err != nil {
		return nil, err
	}
	if ud.IsZero() {
		return nil, ErrDivisionByZero
	}
	result, overflow := new(uint256.Int).MulDivOverflow(ux, uy, ud)
	if overflow {
		return nil, ErrOverflow
	}
	return result.ToBig(), nil
}

// PriceRatio returns buyAmount × Scale / sellAmount, or the undefined sentinel
// (-1) when sellAmount is zero.
func PriceRatio(sellAmount, buyAmount *big.Int) (*big.Int, error) {
	if sellAmount == nil || sellAmount.Sign() == 0 {
		return UndefinedPrice(), nil
	}
	return MulDiv(buyAmount, scale, sellAmount)
}

// BuyForSell reconstructs the buy amount implied by price for sellAmount.
func BuyForSell(sellAmount, price *big.Int) (*big.Int, error) {
	if IsUndefined(price) {
		return nil, ErrDivisionByZero
	}
	return MulDiv(sellAmount, price, scale)
}

// Proportional returns requested × remainingBuy / remainingSell with the
// quotient truncated toward zero.
func Proportional(requested, remainingBuy, remainingSell *big.Int) (*big.Int, error) {
	return MulDiv(requested, remainingBuy, remainingSell)
}

// Commission returns amount × rate / (100 × Scale). A rate of Scale therefore
// represents one percent.
func Commission(amount, rate *big.Int) (*big.Int, error) {
	if rate == nil || rate.Sign() == 0 {
		return big.NewInt(0), nil
	}
	return MulDiv(amount, rate, percentBase)
}

package reputation

import (
	"math/big"
	"strings"
)

// Reputation accumulates the traded volume of a user for one asset. Every
// counter is monotonic.
type Reputation struct {
	User       [20]byte
	Asset      string
	GoodVolume *big.Int
	BadVolume  *big.Int
	TotalDeals uint64
}

// Clone returns a deep copy of the record.
func (r *Reputation) Clone() *Reputation {
	if r == nil {
		return nil
	}
	out := *r
	out.GoodVolume = cloneAmount(r.GoodVolume)
	out.BadVolume = cloneAmount(r.BadVolume)
	return &out
}

// Meets reports whether the good volume satisfies the supplied minimum.
func (r *Reputation) Meets(min *big.Int) bool {
	if min == nil || min.Sign() <= 0 {
		return true
	}
	if r == nil || r.GoodVolume == nil {
		return false
	}
	return r.GoodVolume.Cmp(min) >= 0
}

func emptyReputation(user [20]byte, asset string) *Reputation {
	return &Reputation{
		User:       user,
		Asset:      asset,
		GoodVolume: big.NewInt(0),
		BadVolume:  big.NewInt(0),
	}
}

func normalizeAsset(asset string) string {
	return strings.TrimSpace(asset)
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

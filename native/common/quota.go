package common

import (
	"errors"
	"math"
	"math/big"
)

var (
	ErrQuotaCountExceeded   = errors.New("quota count exceeded")
	ErrQuotaValueExceeded   = errors.New("quota value cap exceeded")
	ErrQuotaCounterOverflow = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for an address.
type QuotaNow struct {
	Count   uint32
	Used    *big.Int
	EpochID uint64
}

// Quota defines the limits enforced for an account per epoch. Zero values
// disable the corresponding limit.
type Quota struct {
	MaxCountPerEpoch uint32
	MaxValuePerEpoch *big.Int
	EpochSeconds     uint32
}

// Enabled reports whether any limit is configured.
func (q Quota) Enabled() bool {
	return q.MaxCountPerEpoch > 0 || (q.MaxValuePerEpoch != nil && q.MaxValuePerEpoch.Sign() > 0)
}

// Epoch maps a unix timestamp to the quota epoch.
func (q Quota) Epoch(unix int64) uint64 {
	if q.EpochSeconds == 0 || unix <= 0 {
		return 0
	}
	return uint64(unix) / uint64(q.EpochSeconds)
}

// CheckQuota verifies whether the additional operation and value fit within the
// configured quota. The returned QuotaNow reflects the updated counters when the
// quota is not exceeded.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addCount uint32, addValue *big.Int) (QuotaNow, error) {
	next := QuotaNow{Count: prev.Count, Used: new(big.Int), EpochID: prev.EpochID}
	if prev.Used != nil {
		next.Used.Set(prev.Used)
	}
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch, Used: new(big.Int)}
	}

	if addCount > 0 {
		if next.Count > math.MaxUint32-addCount {
			return prev, ErrQuotaCounterOverflow
		}
		next.Count += addCount
	}
	if q.MaxCountPerEpoch > 0 && next.Count > q.MaxCountPerEpoch {
		return prev, ErrQuotaCountExceeded
	}

	if addValue != nil && addValue.Sign() > 0 {
		next.Used.Add(next.Used, addValue)
	}
	if q.MaxValuePerEpoch != nil && q.MaxValuePerEpoch.Sign() > 0 && next.Used.Cmp(q.MaxValuePerEpoch) > 0 {
		return prev, ErrQuotaValueExceeded
	}

	return next, nil
}

// Package bank is the in-process custody ledger used by the daemon and tests.
// It keeps per-account, per-asset balances, charges a per-asset transfer fee
// on credits and enforces per-debit and per-epoch spending limits.
package bank

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"p2pmarket/core/state"
	"p2pmarket/crypto"
	"p2pmarket/native/common"
)

var (
	ErrInsufficientBalance   = errors.New("bank: insufficient balance")
	ErrLimitExceeded         = errors.New("bank: limit exceeded")
	ErrDestinationNotAllowed = errors.New("bank: destination not allowed")
	ErrInvalidAmount         = errors.New("bank: invalid amount")
	ErrAssetRequired         = errors.New("bank: asset required")
)

const bpsDenominator = 10_000

// Config controls fees and limits.
type Config struct {
	// Treasury receives transfer fees.
	Treasury [20]byte
	// FeeBps maps an asset to the basis points withheld from each credit.
	FeeBps map[string]uint32
	// MaxDebit caps a single debit. Nil or zero disables the cap.
	MaxDebit *big.Int
	// Quota limits debits per account and epoch.
	Quota common.Quota
	// Exempt accounts pay no fees and skip limits (escrow vaults, treasury).
	Exempt [][20]byte
	// Blocked accounts cannot receive credits.
	Blocked [][20]byte
}

type balanceRecord struct {
	Amount *big.Int
}

type quotaRecord struct {
	Count   uint32
	Used    *big.Int
	EpochID uint64
}

// Bank implements debit and credit over a state manager. Every call is
// atomic.
type Bank struct {
	mu      sync.Mutex
	state   *state.Manager
	cfg     Config
	exempt  map[[20]byte]struct{}
	blocked map[[20]byte]struct{}
	nowFn   func() time.Time
}

// New constructs a bank persisting balances in mgr.
func New(mgr *state.Manager, cfg Config) *Bank {
	b := &Bank{
		state:   mgr,
		cfg:     cfg,
		exempt:  make(map[[20]byte]struct{}),
		blocked: make(map[[20]byte]struct{}),
		nowFn:   time.Now,
	}
	normalized := make(map[string]uint32, len(cfg.FeeBps))
	for asset, bps := range cfg.FeeBps {
		normalized[normalizeAsset(asset)] = bps
	}
	b.cfg.FeeBps = normalized
	for _, addr := range cfg.Exempt {
		b.exempt[addr] = struct{}{}
	}
	if cfg.Treasury != ([20]byte{}) {
		b.exempt[cfg.Treasury] = struct{}{}
	}
	for _, addr := range cfg.Blocked {
		b.blocked[addr] = struct{}{}
	}
	return b
}

// SetNowFunc overrides the clock used for quota epochs.
func (b *Bank) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	b.mu.Lock()
	b.nowFn = now
	b.mu.Unlock()
}

// Exempt adds account to the fee and limit exemption list.
func (b *Bank) Exempt(account [20]byte) {
	b.mu.Lock()
	b.exempt[account] = struct{}{}
	b.mu.Unlock()
}

func normalizeAsset(asset string) string {
	return strings.TrimSpace(asset)
}

func balanceKey(account [20]byte, asset string) []byte {
	return []byte(fmt.Sprintf("bank/balance/%x/%s", account, asset))
}

func quotaKey(account [20]byte) []byte {
	return []byte(fmt.Sprintf("bank/quota/%x", account))
}

type kvStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

func loadBalance(store kvStore, account [20]byte, asset string) (*big.Int, error) {
	var rec balanceRecord
	ok, err := store.KVGet(balanceKey(account, asset), &rec)
	if err != nil {
		return nil, err
	}
	if !ok || rec.Amount == nil {
		return big.NewInt(0), nil
	}
	return rec.Amount, nil
}

func storeBalance(store kvStore, account [20]byte, asset string, amount *big.Int) error {
	return store.KVPut(balanceKey(account, asset), &balanceRecord{Amount: amount})
}

func validate(asset string, amount *big.Int) (string, error) {
	asset = normalizeAsset(asset)
	if asset == "" {
		return "", ErrAssetRequired
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", ErrInvalidAmount
	}
	return asset, nil
}

// Balance returns the balance of account in asset.
func (b *Bank) Balance(account [20]byte, asset string) (*big.Int, error) {
	asset = normalizeAsset(asset)
	if asset == "" {
		return nil, ErrAssetRequired
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bal, err := loadBalance(b.state, account, asset)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(bal), nil
}

// Debit removes amount of asset from account.
func (b *Bank) Debit(account [20]byte, asset string, amount *big.Int) error {
	asset, err := validate(asset, amount)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	tx := b.state.Begin()
	defer tx.Rollback()

	bal, err := loadBalance(tx, account, asset)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientBalance, crypto.FormatAccount(account), bal, asset, amount)
	}
	if _, exempt := b.exempt[account]; !exempt {
		if b.cfg.MaxDebit != nil && b.cfg.MaxDebit.Sign() > 0 && amount.Cmp(b.cfg.MaxDebit) > 0 {
			return fmt.Errorf("%w: debit %s above cap %s", ErrLimitExceeded, amount, b.cfg.MaxDebit)
		}
		if b.cfg.Quota.Enabled() {
			if err := b.consumeQuota(tx, account, amount); err != nil {
				return err
			}
		}
	}
	if err := storeBalance(tx, account, asset, new(big.Int).Sub(bal, amount)); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *Bank) consumeQuota(store kvStore, account [20]byte, amount *big.Int) error {
	var rec quotaRecord
	if _, err := store.KVGet(quotaKey(account), &rec); err != nil {
		return err
	}
	prev := common.QuotaNow{Count: rec.Count, Used: rec.Used, EpochID: rec.EpochID}
	next, err := common.CheckQuota(b.cfg.Quota, b.cfg.Quota.Epoch(b.nowFn().Unix()), prev, 1, amount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLimitExceeded, err)
	}
	return store.KVPut(quotaKey(account), &quotaRecord{Count: next.Count, Used: next.Used, EpochID: next.EpochID})
}

// Fee returns the transfer fee withheld when crediting amount of asset to
// account.
func (b *Bank) Fee(account [20]byte, asset string, amount *big.Int) *big.Int {
	if _, exempt := b.exempt[account]; exempt || amount == nil {
		return big.NewInt(0)
	}
	bps := b.cfg.FeeBps[normalizeAsset(asset)]
	if bps == 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(bps)))
	return fee.Quo(fee, big.NewInt(bpsDenominator))
}

// Credit adds amount of asset to account, withholding the asset's transfer
// fee for the treasury.
func (b *Bank) Credit(account [20]byte, asset string, amount *big.Int) error {
	asset, err := validate(asset, amount)
	if err != nil {
		return err
	}
	if account == ([20]byte{}) {
		return fmt.Errorf("%w: zero account", ErrDestinationNotAllowed)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, blocked := b.blocked[account]; blocked {
		return fmt.Errorf("%w: %s", ErrDestinationNotAllowed, crypto.FormatAccount(account))
	}
	fee := b.Fee(account, asset, amount)
	if fee.Sign() > 0 && b.cfg.Treasury == ([20]byte{}) {
		fee = big.NewInt(0)
	}

	tx := b.state.Begin()
	defer tx.Rollback()

	bal, err := loadBalance(tx, account, asset)
	if err != nil {
		return err
	}
	net := new(big.Int).Sub(amount, fee)
	if err := storeBalance(tx, account, asset, new(big.Int).Add(bal, net)); err != nil {
		return err
	}
	if fee.Sign() > 0 {
		treasury, err := loadBalance(tx, b.cfg.Treasury, asset)
		if err != nil {
			return err
		}
		if err := storeBalance(tx, b.cfg.Treasury, asset, new(big.Int).Add(treasury, fee)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Deposit mints amount of asset into account without fees. It backs the
// development faucet.
func (b *Bank) Deposit(account [20]byte, asset string, amount *big.Int) error {
	asset, err := validate(asset, amount)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bal, err := loadBalance(b.state, account, asset)
	if err != nil {
		return err
	}
	return storeBalance(b.state, account, asset, new(big.Int).Add(bal, amount))
}

// ReverseDebit undoes a debit applied earlier: the amount returns to account
// without fees. Quota usage is not refunded.
func (b *Bank) ReverseDebit(account [20]byte, asset string, amount *big.Int) error {
	return b.Deposit(account, asset, amount)
}

// ReverseCredit undoes a credit applied earlier, recovering both the net
// amount from account and the withheld fee from the treasury.
func (b *Bank) ReverseCredit(account [20]byte, asset string, amount *big.Int) error {
	asset, err := validate(asset, amount)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	fee := b.Fee(account, asset, amount)
	if b.cfg.Treasury == ([20]byte{}) {
		fee = big.NewInt(0)
	}
	net := new(big.Int).Sub(amount, fee)

	tx := b.state.Begin()
	defer tx.Rollback()
	type leg struct {
		account [20]byte
		amount  *big.Int
	}
	for _, l := range []leg{{account, net}, {b.cfg.Treasury, fee}} {
		if l.amount.Sign() == 0 {
			continue
		}
		bal, err := loadBalance(tx, l.account, asset)
		if err != nil {
			return err
		}
		if bal.Cmp(l.amount) < 0 {
			return fmt.Errorf("%w: cannot reverse credit of %s %s", ErrInsufficientBalance, amount, asset)
		}
		if err := storeBalance(tx, l.account, asset, new(big.Int).Sub(bal, l.amount)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

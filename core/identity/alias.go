package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"p2pmarket/crypto"
)

// AliasRecord captures the metadata for a registered alias.
type AliasRecord struct {
	Alias     string
	Address   [20]byte
	CreatedAt int64
	UpdatedAt int64
}

const (
	aliasMinLength = 3
	aliasMaxLength = 32
)

var (
	aliasPattern = regexp.MustCompile(`^[a-z0-9._-]+$`)
	// ErrInvalidAlias is returned when the supplied alias does not satisfy
	// the naming constraints.
	ErrInvalidAlias = errors.New("identity: invalid alias")
	// ErrAliasTaken is returned when the alias is already owned by another
	// address.
	ErrAliasTaken = errors.New("identity: alias already registered")
)

// NormalizeAlias lowercases and validates the supplied alias.
func NormalizeAlias(alias string) (string, error) {
	trimmed := strings.TrimSpace(alias)
	lower := norm.NFKC.String(strings.ToLower(trimmed))
	length := len(lower)
	if length < aliasMinLength || length > aliasMaxLength {
		return "", fmt.Errorf("%w: must be between %d and %d characters", ErrInvalidAlias, aliasMinLength, aliasMaxLength)
	}
	if !aliasPattern.MatchString(lower) {
		return "", fmt.Errorf("%w: allowed characters are [a-z0-9._-]", ErrInvalidAlias)
	}
	return lower, nil
}

var (
	// ErrAliasNotFound is returned when no address owns the alias.
	ErrAliasNotFound = errors.New("identity: alias not found")
	// ErrInvalidAddress marks zero addresses.
	ErrInvalidAddress = errors.New("identity: invalid address")
)

type directoryStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type storedAlias struct {
	Alias     string
	Address   [20]byte
	CreatedAt uint64
	UpdatedAt uint64
}

func aliasKey(alias string) []byte {
	return []byte("identity/alias/" + alias)
}

func reverseKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("identity/reverse/%x", addr))
}

// Directory maps human-readable aliases to account references. Reads never
// mutate state.
type Directory struct {
	store directoryStore
	nowFn func() time.Time
}

// NewDirectory binds a directory to the supplied store.
func NewDirectory(store directoryStore) *Directory {
	return &Directory{store: store, nowFn: time.Now}
}

// SetNowFunc overrides the registration clock.
func (d *Directory) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	d.nowFn = now
}

// Register binds alias to addr. Re-registering an alias to the same address
// refreshes UpdatedAt; binding it to a different address fails.
func (d *Directory) Register(alias string, addr [20]byte) (*AliasRecord, error) {
	if d == nil || d.store == nil {
		return nil, errors.New("identity: directory not configured")
	}
	normalized, err := NormalizeAlias(alias)
	if err != nil {
		return nil, err
	}
	if addr == ([20]byte{}) {
		return nil, ErrInvalidAddress
	}
	now := uint64(d.nowFn().Unix())
	var existing storedAlias
	ok, err := d.store.KVGet(aliasKey(normalized), &existing)
	if err != nil {
		return nil, err
	}
	record := storedAlias{Alias: normalized, Address: addr, CreatedAt: now, UpdatedAt: now}
	if ok {
		if existing.Address != addr {
			return nil, ErrAliasTaken
		}
		record.CreatedAt = existing.CreatedAt
	}
	if err := d.store.KVPut(aliasKey(normalized), &record); err != nil {
		return nil, err
	}
	if err := d.store.KVPut(reverseKey(addr), normalized); err != nil {
		return nil, err
	}
	return toRecord(record), nil
}

func toRecord(s storedAlias) *AliasRecord {
	return &AliasRecord{
		Alias:     s.Alias,
		Address:   s.Address,
		CreatedAt: int64(s.CreatedAt),
		UpdatedAt: int64(s.UpdatedAt),
	}
}

// Lookup returns the record registered for alias.
func (d *Directory) Lookup(alias string) (*AliasRecord, error) {
	if d == nil || d.store == nil {
		return nil, errors.New("identity: directory not configured")
	}
	normalized, err := NormalizeAlias(alias)
	if err != nil {
		return nil, err
	}
	var stored storedAlias
	ok, err := d.store.KVGet(aliasKey(normalized), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAliasNotFound
	}
	return toRecord(stored), nil
}

// Resolve turns a name into an account reference. Names prefixed with "@" or
// failing to parse as an address are looked up as aliases; bech32 and hex
// addresses resolve to themselves.
func (d *Directory) Resolve(name string) ([20]byte, error) {
	trimmed := strings.TrimSpace(name)
	if !strings.HasPrefix(trimmed, "@") {
		if addr, err := crypto.ParseAccount(trimmed); err == nil {
			return addr, nil
		}
	}
	record, err := d.Lookup(strings.TrimPrefix(trimmed, "@"))
	if err != nil {
		return [20]byte{}, err
	}
	return record.Address, nil
}

// ReverseLookup returns the alias most recently bound to addr.
func (d *Directory) ReverseLookup(addr [20]byte) (string, bool, error) {
	if d == nil || d.store == nil {
		return "", false, errors.New("identity: directory not configured")
	}
	var alias string
	ok, err := d.store.KVGet(reverseKey(addr), &alias)
	if err != nil || !ok {
		return "", false, err
	}
	return alias, true, nil
}

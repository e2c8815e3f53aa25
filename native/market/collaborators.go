package market

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	coreerrors "p2pmarket/core/errors"
	"p2pmarket/crypto"
	"p2pmarket/native/offers"
)

// Custody moves balances on behalf of the engine. Failures surface as
// ErrCustodyRejected wrapping the custody cause.
type Custody interface {
	Debit(account [20]byte, asset string, amount *big.Int) error
	Credit(account [20]byte, asset string, amount *big.Int) error
}

// Reverser is implemented by custody backends able to undo a movement
// exactly, including any fee withheld on credit. Backends without it are
// compensated with the opposite Credit or Debit.
type Reverser interface {
	ReverseDebit(account [20]byte, asset string, amount *big.Int) error
	ReverseCredit(account [20]byte, asset string, amount *big.Int) error
}

// Directory resolves human readable names to accounts.
type Directory interface {
	Resolve(name string) ([20]byte, error)
}

// PairRegistry reports whether two assets may be traded against each other.
type PairRegistry interface {
	IsPairAllowed(assetA, assetB string) bool
}

// Authorizer answers role membership for administrative operations.
type Authorizer interface {
	HasRole(account [20]byte, role Role) bool
}

// Role names an administrative capability.
type Role string

const (
	RoleLockAdmin       Role = "lock-admin"
	RolePairAdmin       Role = "pair-admin"
	RoleCommissionAdmin Role = "commission-admin"
	RolePauser          Role = "pauser"
)

// Roles is the decoded role membership of one account.
type Roles struct {
	LockAdmin       bool
	PairAdmin       bool
	CommissionAdmin bool
	Pauser          bool
}

// ParseRoles decodes role names into a Roles value.
func ParseRoles(names []string) (Roles, error) {
	var roles Roles
	for _, name := range names {
		switch Role(strings.ToLower(strings.TrimSpace(name))) {
		case RoleLockAdmin:
			roles.LockAdmin = true
		case RolePairAdmin:
			roles.PairAdmin = true
		case RoleCommissionAdmin:
			roles.CommissionAdmin = true
		case RolePauser:
			roles.Pauser = true
		default:
			return Roles{}, fmt.Errorf("market: unknown role %q", name)
		}
	}
	return roles, nil
}

// Has reports whether role is granted.
func (r Roles) Has(role Role) bool {
	switch role {
	case RoleLockAdmin:
		return r.LockAdmin
	case RolePairAdmin:
		return r.PairAdmin
	case RoleCommissionAdmin:
		return r.CommissionAdmin
	case RolePauser:
		return r.Pauser
	default:
		return false
	}
}

// RoleSet maps accounts to their decoded roles.
type RoleSet map[[20]byte]Roles

// Grant merges roles into the account's membership.
func (s RoleSet) Grant(account [20]byte, roles Roles) {
	current := s[account]
	current.LockAdmin = current.LockAdmin || roles.LockAdmin
	current.PairAdmin = current.PairAdmin || roles.PairAdmin
	current.CommissionAdmin = current.CommissionAdmin || roles.CommissionAdmin
	current.Pauser = current.Pauser || roles.Pauser
	s[account] = current
}

// HasRole implements Authorizer.
func (s RoleSet) HasRole(account [20]byte, role Role) bool {
	if s == nil {
		return false
	}
	return s[account].Has(role)
}

// StaticPairs is a fixed allow-list of trading pairs. Pairs are symmetric and
// collectibles match on their collection symbol. An empty list allows every
// pair.
type StaticPairs struct {
	pairs map[[2]string]struct{}
}

// NewStaticPairs parses "A/B" entries into an allow-list.
func NewStaticPairs(entries []string) (*StaticPairs, error) {
	registry := &StaticPairs{pairs: make(map[[2]string]struct{}, len(entries))}
	for _, entry := range entries {
		a, b, ok := strings.Cut(entry, "/")
		if !ok {
			return nil, fmt.Errorf("%w: pair %q must be of the form A/B", coreerrors.ErrInvalidAsset, entry)
		}
		key, err := pairEntry(a, b)
		if err != nil {
			return nil, err
		}
		registry.pairs[key] = struct{}{}
	}
	return registry, nil
}

func pairEntry(a, b string) ([2]string, error) {
	a, b = offers.Collection(a), offers.Collection(b)
	if a == "" || b == "" || a == b {
		return [2]string{}, fmt.Errorf("%w: invalid pair %s/%s", coreerrors.ErrInvalidAsset, a, b)
	}
	pair := []string{a, b}
	sort.Strings(pair)
	return [2]string{pair[0], pair[1]}, nil
}

// IsPairAllowed implements PairRegistry.
func (p *StaticPairs) IsPairAllowed(assetA, assetB string) bool {
	if p == nil || len(p.pairs) == 0 {
		return true
	}
	key, err := pairEntry(assetA, assetB)
	if err != nil {
		return false
	}
	_, ok := p.pairs[key]
	return ok
}

// Pairs lists the allowed pairs as "A/B" strings in sorted order.
func (p *StaticPairs) Pairs() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.pairs))
	for pair := range p.pairs {
		out = append(out, pair[0]+"/"+pair[1])
	}
	sort.Strings(out)
	return out
}

// addressDirectory resolves only literal addresses.
type addressDirectory struct{}

func (addressDirectory) Resolve(name string) ([20]byte, error) {
	return crypto.ParseAccount(strings.TrimSpace(name))
}

package offers

import (
	"errors"
	"fmt"

	"p2pmarket/core/events"
	coreerrors "p2pmarket/core/errors"
)

var (
	offererTokenPrefix   = []byte("offers/offerers/token/")
	offererAccountPrefix = []byte("offers/offerers/account/")
)

func offererTokenKey(token string) []byte {
	return []byte(fmt.Sprintf("%s%s", offererTokenPrefix, token))
}

func offererAccountKey(account [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", offererAccountPrefix, account))
}

// tokenOfferers is stored once a token is first restricted. An empty list
// keeps the token restricted with nobody allowed to offer it.
type tokenOfferers struct {
	Accounts [][20]byte
}

type accountTokens struct {
	Tokens []string
}

// Offerers tracks which accounts may post offers selling a token. Tokens are
// keyed by collection, so an entry for PUNK covers every PUNK#id. Tokens that
// were never restricted are open to everyone.
type Offerers struct {
	store   offerStore
	emitter events.Emitter
}

// NewOfferers binds the allow-list to the supplied store.
func NewOfferers(store offerStore) *Offerers {
	return &Offerers{store: store, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the sink receiving OffererChanged records.
func (o *Offerers) SetEmitter(emitter events.Emitter) {
	if o == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	o.emitter = emitter
}

func (o *Offerers) ready() error {
	if o == nil || o.store == nil {
		return errors.New("offers: offerer registry not configured")
	}
	return nil
}

func (o *Offerers) loadToken(token string) (*tokenOfferers, bool, error) {
	record := new(tokenOfferers)
	ok, err := o.store.KVGet(offererTokenKey(token), record)
	if err != nil {
		return nil, false, err
	}
	return record, ok, nil
}

// SetOfferer grants or revokes account's right to offer token. The first
// grant or revoke restricts the token.
func (o *Offerers) SetOfferer(token string, account [20]byte, allowed bool) error {
	if err := o.ready(); err != nil {
		return err
	}
	token = Collection(token)
	if token == "" {
		return fmt.Errorf("%w: token required", coreerrors.ErrInvalidAsset)
	}
	if account == ([20]byte{}) {
		return fmt.Errorf("%w: offerer required", coreerrors.ErrUnauthorized)
	}
	record, _, err := o.loadToken(token)
	if err != nil {
		return err
	}
	record.Accounts = toggleAccount(record.Accounts, account, allowed)
	if err := o.store.KVPut(offererTokenKey(token), record); err != nil {
		return err
	}
	tokens := new(accountTokens)
	if _, err := o.store.KVGet(offererAccountKey(account), tokens); err != nil {
		return err
	}
	tokens.Tokens = toggleToken(tokens.Tokens, token, allowed)
	if err := o.store.KVPut(offererAccountKey(account), tokens); err != nil {
		return err
	}
	o.emitter.Emit(events.OffererChanged{Token: token, Offerer: account, Allowed: allowed})
	return nil
}

// CanOffer reports whether account may post an offer selling asset.
func (o *Offerers) CanOffer(account [20]byte, asset string) (bool, error) {
	if err := o.ready(); err != nil {
		return false, err
	}
	record, restricted, err := o.loadToken(Collection(asset))
	if err != nil {
		return false, err
	}
	if !restricted {
		return true, nil
	}
	for _, allowed := range record.Accounts {
		if allowed == account {
			return true, nil
		}
	}
	return false, nil
}

// AllowedTokens lists the tokens account has been granted.
func (o *Offerers) AllowedTokens(account [20]byte) ([]string, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	tokens := new(accountTokens)
	if _, err := o.store.KVGet(offererAccountKey(account), tokens); err != nil {
		return nil, err
	}
	return append([]string(nil), tokens.Tokens...), nil
}

func toggleAccount(list [][20]byte, account [20]byte, allowed bool) [][20]byte {
	for i, existing := range list {
		if existing != account {
			continue
		}
		if allowed {
			return list
		}
		return append(list[:i], list[i+1:]...)
	}
	if allowed {
		list = append(list, account)
	}
	return list
}

func toggleToken(list []string, token string, allowed bool) []string {
	for i, existing := range list {
		if existing != token {
			continue
		}
		if allowed {
			return list
		}
		return append(list[:i], list[i+1:]...)
	}
	if allowed {
		list = append(list, token)
	}
	return list
}

package common

import (
	"fmt"
	"strings"

	coreerrors "p2pmarket/core/errors"
)

// ErrModulePaused is returned by Guard while a module is paused.
var ErrModulePaused = coreerrors.ErrPaused

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return fmt.Errorf("%w: %s", ErrModulePaused, module)
	}
	return nil
}

type pauseStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// PauseStore persists per-module pause flags.
type PauseStore struct {
	store pauseStore
}

// NewPauseStore binds pause flags to the supplied store.
func NewPauseStore(store pauseStore) *PauseStore {
	return &PauseStore{store: store}
}

func pauseKey(module string) []byte {
	return []byte("pause/" + strings.ToLower(strings.TrimSpace(module)))
}

// SetPaused records the pause flag of module.
func (p *PauseStore) SetPaused(module string, paused bool) error {
	if p == nil || p.store == nil {
		return fmt.Errorf("pause store not configured")
	}
	if strings.TrimSpace(module) == "" {
		return fmt.Errorf("pause: module required")
	}
	return p.store.KVPut(pauseKey(module), paused)
}

// IsPaused reports the pause flag of module. Unreadable flags count as paused.
func (p *PauseStore) IsPaused(module string) bool {
	if p == nil || p.store == nil {
		return false
	}
	var paused bool
	ok, err := p.store.KVGet(pauseKey(module), &paused)
	if err != nil {
		return true
	}
	return ok && paused
}

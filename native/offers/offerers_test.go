package offers

import (
	"testing"

	"github.com/stretchr/testify/require"

	"p2pmarket/core/events"
	coreerrors "p2pmarket/core/errors"
	"p2pmarket/core/state"
	"p2pmarket/storage"
)

func TestOfferersRestrictTokens(t *testing.T) {
	registry := NewOfferers(state.NewManager(storage.NewMemDB()))
	emitter := &capturingEmitter{}
	registry.SetEmitter(emitter)
	alice, bob := newTestAddress(1), newTestAddress(2)

	ok, err := registry.CanOffer(bob, "PUNK#1")
	require.NoError(t, err)
	require.True(t, ok, "unrestricted tokens are open")

	require.NoError(t, registry.SetOfferer("punk", alice, true))
	require.NoError(t, registry.SetOfferer("PUNK#9", alice, true))

	ok, err = registry.CanOffer(alice, "PUNK#1")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = registry.CanOffer(bob, "punk#1")
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = registry.CanOffer(bob, "APE#1")
	require.NoError(t, err)
	require.True(t, ok)

	tokens, err := registry.AllowedTokens(alice)
	require.NoError(t, err)
	require.Equal(t, []string{"PUNK"}, tokens)

	require.NoError(t, registry.SetOfferer("PUNK", alice, false))
	ok, err = registry.CanOffer(alice, "PUNK#1")
	require.NoError(t, err)
	require.False(t, ok, "revoking the last offerer keeps the token restricted")
	tokens, err = registry.AllowedTokens(alice)
	require.NoError(t, err)
	require.Empty(t, tokens)

	require.Len(t, emitter.events, 4)
	last := emitter.events[3].Event()
	require.Equal(t, events.TypeOffererChanged, last.Type)
	require.Equal(t, "PUNK", last.Attributes["token"])
	require.Equal(t, "false", last.Attributes["allowed"])

	require.ErrorIs(t, registry.SetOfferer(" ", alice, true), coreerrors.ErrInvalidAsset)
	require.ErrorIs(t, registry.SetOfferer("PUNK", [20]byte{}, true), coreerrors.ErrUnauthorized)
}

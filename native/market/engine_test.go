package market

import (
	"bytes"
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"p2pmarket/core/events"
	coreerrors "p2pmarket/core/errors"
	"p2pmarket/core/state"
	"p2pmarket/native/bank"
	"p2pmarket/native/escrow"
	"p2pmarket/native/offers"
	"p2pmarket/native/pricing"
	"p2pmarket/storage"
)

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func (c *capturingEmitter) types() []string {
	out := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.EventType())
	}
	return out
}

func (c *capturingEmitter) reset() { c.events = nil }

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

var (
	seller   = newTestAddress(0x01)
	buyer    = newTestAddress(0x02)
	outsider = newTestAddress(0x03)
	auditor  = newTestAddress(0x09)
	admin    = newTestAddress(0x0A)
	vault    = newTestAddress(0xEE)
)

type fixture struct {
	engine *Engine
	bank   *bank.Bank
	sink   *capturingEmitter
}

func newFixture(t *testing.T, bankCfg bank.Config) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	bankCfg.Exempt = append(bankCfg.Exempt, vault)
	custody := bank.New(state.NewManager(storage.NewTable(db, "bank/")), bankCfg)

	roles := RoleSet{}
	roles.Grant(admin, Roles{LockAdmin: true, PairAdmin: true, CommissionAdmin: true, Pauser: true})

	engine, err := NewEngine(state.NewManager(storage.NewTable(db, "market/")), Config{
		Vault:      vault,
		Custody:    custody,
		Authorizer: roles,
	})
	require.NoError(t, err)
	sink := &capturingEmitter{}
	engine.SetEmitter(sink)
	engine.SetNowFunc(func() time.Time { return time.Unix(1_700_000_000, 0) })

	require.NoError(t, custody.Deposit(seller, "X", big.NewInt(1000)))
	require.NoError(t, custody.Deposit(buyer, "Y", big.NewInt(1000)))
	return &fixture{engine: engine, bank: custody, sink: sink}
}

func (f *fixture) balance(t *testing.T, account [20]byte, asset string) int64 {
	t.Helper()
	bal, err := f.bank.Balance(account, asset)
	require.NoError(t, err)
	return bal.Int64()
}

func partialOfferParams() offers.CreateParams {
	return offers.CreateParams{
		Owner:      seller,
		SellAsset:  "x",
		BuyAsset:   "y",
		SellAmount: big.NewInt(100),
		BuyAmount:  big.NewInt(120),
		IsPartial:  true,
		Auditor:    auditor,
		Limits: offers.Limits{
			MinDealAmount: big.NewInt(10),
			MaxDealAmount: big.NewInt(70),
		},
	}
}

func (f *fixture) openOffer(t *testing.T) *offers.Offer {
	t.Helper()
	offer, err := f.engine.CreateOffer(context.Background(), partialOfferParams())
	require.NoError(t, err)
	return offer
}

func (f *fixture) pendingDeal(t *testing.T) (*offers.Offer, *escrow.Deal) {
	t.Helper()
	offer := f.openOffer(t)
	deal, err := f.engine.FillOffer(context.Background(), offer.ID, buyer, big.NewInt(60))
	require.NoError(t, err)
	return offer, deal
}

func TestFillEscrowsBothLegs(t *testing.T) {
	f := newFixture(t, bank.Config{})
	offer, deal := f.pendingDeal(t)

	require.Equal(t, int64(60), deal.SellAmount.Int64())
	require.Equal(t, int64(72), deal.BuyAmount.Int64())
	require.True(t, deal.IsPending)

	stored, err := f.engine.GetOffer(offer.ID)
	require.NoError(t, err)
	require.Equal(t, int64(40), stored.RemainingSellAmount.Int64())
	require.Equal(t, int64(48), stored.RemainingBuyAmount.Int64())
	require.True(t, stored.IsOpen)
	require.Equal(t, [][32]byte{deal.ID}, stored.Deals)

	require.Equal(t, int64(940), f.balance(t, seller, "X"))
	require.Equal(t, int64(928), f.balance(t, buyer, "Y"))
	require.Equal(t, int64(60), f.balance(t, vault, "X"))
	require.Equal(t, int64(72), f.balance(t, vault, "Y"))

	require.Equal(t, []string{
		events.TypeOfferCreated,
		events.TypeOfferUpdated,
		events.TypeDealCreated,
	}, f.sink.types())
}

func TestAgreementReleasesEscrowAndCreditsReputation(t *testing.T) {
	f := newFixture(t, bank.Config{})
	_, deal := f.pendingDeal(t)
	ctx := context.Background()

	outcome, err := f.engine.Vote(ctx, deal.ID, buyer, escrow.VoteApprove)
	require.NoError(t, err)
	require.False(t, outcome.Resolved)

	outcome, err = f.engine.Vote(ctx, deal.ID, seller, escrow.VoteApprove)
	require.NoError(t, err)
	require.True(t, outcome.Resolved)
	require.True(t, outcome.Deal.IsSuccess)
	require.Equal(t, seller, outcome.Deal.Executor)

	require.Equal(t, int64(60), f.balance(t, buyer, "X"))
	require.Equal(t, int64(72), f.balance(t, seller, "Y"))
	require.Zero(t, f.balance(t, vault, "X"))
	require.Zero(t, f.balance(t, vault, "Y"))

	sellerRep, err := f.engine.GetReputation(seller, "X")
	require.NoError(t, err)
	require.Equal(t, int64(60), sellerRep.GoodVolume.Int64())
	require.Equal(t, uint64(1), sellerRep.TotalDeals)
	buyerRep, err := f.engine.GetReputation(buyer, "y")
	require.NoError(t, err)
	require.Equal(t, int64(72), buyerRep.GoodVolume.Int64())

	_, err = f.engine.Vote(ctx, deal.ID, buyer, escrow.VoteReject)
	require.ErrorIs(t, err, coreerrors.ErrNotPending)
}

func TestDisagreementEscalatesToAuditor(t *testing.T) {
	f := newFixture(t, bank.Config{})
	_, deal := f.pendingDeal(t)
	ctx := context.Background()

	_, err := f.engine.Vote(ctx, deal.ID, buyer, escrow.VoteApprove)
	require.NoError(t, err)
	outcome, err := f.engine.Vote(ctx, deal.ID, seller, escrow.VoteReject)
	require.NoError(t, err)
	require.True(t, outcome.Escalated)
	require.True(t, outcome.Deal.IsPending)

	// A repeated disagreeing vote must not enqueue the deal again.
	_, err = f.engine.Vote(ctx, deal.ID, buyer, escrow.VoteApprove)
	require.NoError(t, err)
	queue, err := f.engine.AuditorQueue(auditor)
	require.NoError(t, err)
	require.Equal(t, [][32]byte{deal.ID}, queue)

	lock, err := f.engine.GetLock(seller, "X")
	require.NoError(t, err)
	require.Equal(t, uint64(1), lock.Disputes)

	_, err = f.engine.AuditorVote(ctx, deal.ID, outsider, escrow.VoteReject)
	require.ErrorIs(t, err, coreerrors.ErrUnauthorized)

	outcome, err = f.engine.AuditorVote(ctx, deal.ID, auditor, escrow.VoteReject)
	require.NoError(t, err)
	require.True(t, outcome.Resolved)
	require.False(t, outcome.Deal.IsSuccess)

	require.Equal(t, int64(1000), f.balance(t, seller, "X"))
	require.Equal(t, int64(1000), f.balance(t, buyer, "Y"))

	sellerRep, err := f.engine.GetReputation(seller, "X")
	require.NoError(t, err)
	require.Equal(t, int64(60), sellerRep.BadVolume.Int64())
	buyerRep, err := f.engine.GetReputation(buyer, "Y")
	require.NoError(t, err)
	require.Equal(t, int64(72), buyerRep.BadVolume.Int64())

	queue, err = f.engine.AuditorQueue(auditor)
	require.NoError(t, err)
	require.Empty(t, queue)
	lock, err = f.engine.GetLock(seller, "X")
	require.NoError(t, err)
	require.False(t, lock.IsLocked())

	_, err = f.engine.AuditorVote(ctx, deal.ID, auditor, escrow.VoteApprove)
	require.ErrorIs(t, err, coreerrors.ErrNotPending)
}

func TestAuditorVoteRequiresEscalation(t *testing.T) {
	f := newFixture(t, bank.Config{})
	_, deal := f.pendingDeal(t)
	_, err := f.engine.AuditorVote(context.Background(), deal.ID, auditor, escrow.VoteApprove)
	require.ErrorIs(t, err, coreerrors.ErrNotEscalated)
}

func TestFillBoundaries(t *testing.T) {
	f := newFixture(t, bank.Config{})
	offer, _ := f.pendingDeal(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		amount int64
		err    error
	}{
		{"above max deal", 80, coreerrors.ErrAboveMaxDeal},
		{"over remaining", 50, coreerrors.ErrInvalidAmount},
		{"below min deal", 5, coreerrors.ErrBelowMinDeal},
		{"zero", 0, coreerrors.ErrInvalidAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.FillOffer(ctx, offer.ID, buyer, big.NewInt(tc.amount))
			require.ErrorIs(t, err, tc.err)
		})
	}

	deal, err := f.engine.FillOffer(ctx, offer.ID, buyer, big.NewInt(40))
	require.NoError(t, err)
	require.Equal(t, int64(48), deal.BuyAmount.Int64())
	closed, err := f.engine.GetOffer(offer.ID)
	require.NoError(t, err)
	require.False(t, closed.IsOpen)
	require.Zero(t, closed.RemainingBuyAmount.Sign())

	_, err = f.engine.FillOffer(ctx, offer.ID, buyer, big.NewInt(10))
	require.ErrorIs(t, err, coreerrors.ErrOfferClosed)
}

func TestFillRejectsParties(t *testing.T) {
	f := newFixture(t, bank.Config{})
	offer := f.openOffer(t)
	ctx := context.Background()
	for _, caller := range [][20]byte{seller, auditor, {}} {
		_, err := f.engine.FillOffer(ctx, offer.ID, caller, big.NewInt(20))
		require.ErrorIs(t, err, coreerrors.ErrUnauthorized)
	}
	_, err := f.engine.FillOffer(ctx, [32]byte{0x42}, buyer, big.NewInt(20))
	require.ErrorIs(t, err, coreerrors.ErrOfferNotFound)
}

func TestCancelOffer(t *testing.T) {
	f := newFixture(t, bank.Config{})
	offer := f.openOffer(t)
	ctx := context.Background()

	_, err := f.engine.CancelOffer(ctx, offer.ID, outsider)
	require.ErrorIs(t, err, coreerrors.ErrUnauthorized)

	cancelled, err := f.engine.CancelOffer(ctx, offer.ID, seller)
	require.NoError(t, err)
	require.False(t, cancelled.IsOpen)
	require.Equal(t, int64(100), cancelled.RemainingSellAmount.Int64())

	_, err = f.engine.CancelOffer(ctx, offer.ID, seller)
	require.ErrorIs(t, err, coreerrors.ErrOfferClosed)
	_, err = f.engine.FillOffer(ctx, offer.ID, buyer, big.NewInt(20))
	require.ErrorIs(t, err, coreerrors.ErrOfferClosed)
}

func TestFailedFillLeavesNoTrace(t *testing.T) {
	f := newFixture(t, bank.Config{})
	offer := f.openOffer(t)
	ctx := context.Background()
	f.sink.reset()

	poor := newTestAddress(0x04)
	require.NoError(t, f.bank.Deposit(poor, "Y", big.NewInt(10)))

	_, err := f.engine.FillOffer(ctx, offer.ID, poor, big.NewInt(60))
	require.ErrorIs(t, err, coreerrors.ErrCustodyRejected)
	require.ErrorIs(t, err, bank.ErrInsufficientBalance)

	require.Equal(t, int64(1000), f.balance(t, seller, "X"))
	require.Equal(t, int64(10), f.balance(t, poor, "Y"))
	require.Zero(t, f.balance(t, vault, "X"))

	stored, err := f.engine.GetOffer(offer.ID)
	require.NoError(t, err)
	require.Equal(t, int64(100), stored.RemainingSellAmount.Int64())
	require.Empty(t, stored.Deals)

	deals, err := f.engine.DealsByUser(seller)
	require.NoError(t, err)
	require.Empty(t, deals)
	require.Empty(t, f.sink.events)
}

func TestFailedSettlementKeepsDealPending(t *testing.T) {
	f := newFixture(t, bank.Config{Blocked: [][20]byte{buyer}})
	_, deal := f.pendingDeal(t)
	ctx := context.Background()

	_, err := f.engine.Vote(ctx, deal.ID, buyer, escrow.VoteApprove)
	require.NoError(t, err)
	_, err = f.engine.Vote(ctx, deal.ID, seller, escrow.VoteApprove)
	require.ErrorIs(t, err, coreerrors.ErrCustodyRejected)
	require.ErrorIs(t, err, bank.ErrDestinationNotAllowed)

	stored, err := f.engine.GetDeal(deal.ID)
	require.NoError(t, err)
	require.True(t, stored.IsPending)
	require.Equal(t, escrow.VoteUnset, stored.SellerVote)
	require.Equal(t, int64(60), f.balance(t, vault, "X"))
	require.Equal(t, int64(72), f.balance(t, vault, "Y"))

	rep, err := f.engine.GetReputation(seller, "X")
	require.NoError(t, err)
	require.Zero(t, rep.TotalDeals)
}

func TestFiatProxyLegIsNotEscrowed(t *testing.T) {
	f := newFixture(t, bank.Config{})
	params := partialOfferParams()
	params.BuyAsset = "USD"
	params.IsBuyFiatProxy = true
	offer, err := f.engine.CreateOffer(context.Background(), params)
	require.NoError(t, err)

	fiatBuyer := newTestAddress(0x05)
	deal, err := f.engine.FillOffer(context.Background(), offer.ID, fiatBuyer, big.NewInt(50))
	require.NoError(t, err)
	require.Len(t, deal.Legs(), 1)
	require.Equal(t, int64(50), f.balance(t, vault, "X"))

	_, err = f.engine.Vote(context.Background(), deal.ID, fiatBuyer, escrow.VoteApprove)
	require.NoError(t, err)
	_, err = f.engine.Vote(context.Background(), deal.ID, seller, escrow.VoteApprove)
	require.NoError(t, err)
	require.Equal(t, int64(50), f.balance(t, fiatBuyer, "X"))
}

func TestLocks(t *testing.T) {
	f := newFixture(t, bank.Config{})
	offer := f.openOffer(t)
	ctx := context.Background()

	require.ErrorIs(t, f.engine.SetLock(ctx, outsider, buyer, "Y", true), coreerrors.ErrUnauthorized)
	require.NoError(t, f.engine.SetLock(ctx, admin, buyer, "y", true))
	_, err := f.engine.FillOffer(ctx, offer.ID, buyer, big.NewInt(20))
	require.ErrorIs(t, err, coreerrors.ErrLocked)
	require.NoError(t, f.engine.SetLock(ctx, admin, buyer, "Y", false))

	deal, err := f.engine.FillOffer(ctx, offer.ID, buyer, big.NewInt(20))
	require.NoError(t, err)

	require.NoError(t, f.engine.SetLock(ctx, admin, seller, "X", true))
	_, err = f.engine.Vote(ctx, deal.ID, seller, escrow.VoteApprove)
	require.ErrorIs(t, err, coreerrors.ErrLocked)
	_, err = f.engine.CreateOffer(ctx, partialOfferParams())
	require.ErrorIs(t, err, coreerrors.ErrLocked)
	require.NoError(t, f.engine.SetLock(ctx, admin, seller, "X", false))

	require.NoError(t, f.engine.SetPairLock(ctx, admin, "Y", "X", true))
	_, err = f.engine.CreateOffer(ctx, partialOfferParams())
	require.ErrorIs(t, err, coreerrors.ErrInvalidAsset)
	_, err = f.engine.FillOffer(ctx, offer.ID, buyer, big.NewInt(20))
	require.ErrorIs(t, err, coreerrors.ErrLocked)
	locked, err := f.engine.IsPairLocked("x", "y")
	require.NoError(t, err)
	require.True(t, locked)

	// Pair locks never block votes on deals already opened.
	_, err = f.engine.Vote(ctx, deal.ID, seller, escrow.VoteApprove)
	require.NoError(t, err)
}

func TestDisputeHoldBlocksNewOffers(t *testing.T) {
	f := newFixture(t, bank.Config{})
	_, deal := f.pendingDeal(t)
	ctx := context.Background()
	_, err := f.engine.Vote(ctx, deal.ID, buyer, escrow.VoteApprove)
	require.NoError(t, err)
	_, err = f.engine.Vote(ctx, deal.ID, seller, escrow.VoteReject)
	require.NoError(t, err)

	_, err = f.engine.CreateOffer(ctx, partialOfferParams())
	require.ErrorIs(t, err, coreerrors.ErrLocked)

	// Holds do not stop the parties from changing their votes.
	outcome, err := f.engine.Vote(ctx, deal.ID, seller, escrow.VoteApprove)
	require.NoError(t, err)
	require.True(t, outcome.Resolved)

	_, err = f.engine.CreateOffer(ctx, partialOfferParams())
	require.NoError(t, err)
}

func TestReputationGate(t *testing.T) {
	f := newFixture(t, bank.Config{})
	params := partialOfferParams()
	params.Limits.MinReputation = big.NewInt(50)
	offer, err := f.engine.CreateOffer(context.Background(), params)
	require.NoError(t, err)

	_, err = f.engine.FillOffer(context.Background(), offer.ID, buyer, big.NewInt(20))
	require.ErrorIs(t, err, coreerrors.ErrReputationTooLow)
}

func TestPauseBlocksOffersAndFills(t *testing.T) {
	f := newFixture(t, bank.Config{})
	_, deal := f.pendingDeal(t)
	offer := f.openOffer(t)
	ctx := context.Background()

	require.ErrorIs(t, f.engine.SetPaused(ctx, outsider, true), coreerrors.ErrUnauthorized)
	require.NoError(t, f.engine.SetPaused(ctx, admin, true))
	paused, err := f.engine.Paused()
	require.NoError(t, err)
	require.True(t, paused)

	_, err = f.engine.CreateOffer(ctx, partialOfferParams())
	require.ErrorIs(t, err, coreerrors.ErrPaused)
	_, err = f.engine.FillOffer(ctx, offer.ID, buyer, big.NewInt(20))
	require.ErrorIs(t, err, coreerrors.ErrPaused)
	_, err = f.engine.Vote(ctx, deal.ID, buyer, escrow.VoteApprove)
	require.NoError(t, err)

	require.NoError(t, f.engine.SetPaused(ctx, admin, false))
	_, err = f.engine.FillOffer(ctx, offer.ID, buyer, big.NewInt(20))
	require.NoError(t, err)
}

func TestCommissionReportedOnSuccess(t *testing.T) {
	f := newFixture(t, bank.Config{})
	ctx := context.Background()

	require.ErrorIs(t, f.engine.SetCommission(ctx, outsider, pricing.Scale()), coreerrors.ErrUnauthorized)
	tooHigh := new(big.Int).Mul(big.NewInt(101), pricing.Scale())
	require.ErrorIs(t, f.engine.SetCommission(ctx, admin, tooHigh), coreerrors.ErrInvalidAmount)
	require.NoError(t, f.engine.SetCommission(ctx, admin, pricing.Scale()))
	rate, err := f.engine.Commission()
	require.NoError(t, err)
	require.Equal(t, 0, rate.Cmp(pricing.Scale()))

	params := partialOfferParams()
	params.BuyAmount = big.NewInt(1000)
	params.Limits = offers.Limits{}
	offer, err := f.engine.CreateOffer(ctx, params)
	require.NoError(t, err)
	deal, err := f.engine.FillOffer(ctx, offer.ID, buyer, big.NewInt(100))
	require.NoError(t, err)

	f.sink.reset()
	_, err = f.engine.Vote(ctx, deal.ID, buyer, escrow.VoteApprove)
	require.NoError(t, err)
	_, err = f.engine.Vote(ctx, deal.ID, seller, escrow.VoteApprove)
	require.NoError(t, err)

	var resolved *events.DealResolved
	for _, evt := range f.sink.events {
		if r, ok := evt.(events.DealResolved); ok {
			resolved = &r
		}
	}
	require.NotNil(t, resolved)
	require.True(t, resolved.Success)
	require.Equal(t, int64(10), resolved.Commission.Int64())
}

func TestQueriesAndResolveAccount(t *testing.T) {
	f := newFixture(t, bank.Config{})
	offer, deal := f.pendingDeal(t)

	owned, err := f.engine.OffersByOwner(seller)
	require.NoError(t, err)
	require.Equal(t, [][32]byte{offer.ID}, owned)

	for _, user := range [][20]byte{seller, buyer} {
		deals, err := f.engine.DealsByUser(user)
		require.NoError(t, err)
		require.Equal(t, [][32]byte{deal.ID}, deals)
	}

	_, err = f.engine.GetDeal([32]byte{0x01})
	require.ErrorIs(t, err, coreerrors.ErrDealNotFound)

	resolved, err := f.engine.ResolveAccount("0x0202020202020202020202020202020202020202")
	require.NoError(t, err)
	require.Equal(t, buyer, resolved)

	price, err := PriceRatio(big.NewInt(100), big.NewInt(120))
	require.NoError(t, err)
	require.Equal(t, "1200000000000000000", price.String())
	undefined, err := PriceRatio(big.NewInt(0), big.NewInt(120))
	require.NoError(t, err)
	require.Equal(t, int64(-1), undefined.Int64())
}

func TestNewEngineValidatesConfig(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	_, err := NewEngine(mgr, Config{Vault: vault})
	require.ErrorIs(t, err, coreerrors.ErrNotConfigured)
	custody := bank.New(state.NewManager(storage.NewMemDB()), bank.Config{})
	_, err = NewEngine(mgr, Config{Custody: custody})
	require.ErrorIs(t, err, coreerrors.ErrNotConfigured)
	_, err = NewEngine(nil, Config{Vault: vault, Custody: custody})
	require.Error(t, err)
}

func TestSetPairLockRejectsSameAsset(t *testing.T) {
	f := newFixture(t, bank.Config{})
	err := f.engine.SetPairLock(context.Background(), admin, "x", "X", true)
	require.ErrorIs(t, err, coreerrors.ErrInvalidAsset)
}

func TestPairLockCoversCollectibles(t *testing.T) {
	f := newFixture(t, bank.Config{})
	ctx := context.Background()
	require.NoError(t, f.bank.Deposit(seller, "PUNK#7", big.NewInt(1)))
	params := offers.CreateParams{
		Kind:       offers.KindCollectible,
		Owner:      seller,
		SellAsset:  "punk#7",
		BuyAsset:   "y",
		SellAmount: big.NewInt(1),
		BuyAmount:  big.NewInt(500),
		Auditor:    auditor,
	}

	require.NoError(t, f.engine.SetPairLock(ctx, admin, "PUNK", "Y", true))
	_, err := f.engine.CreateOffer(ctx, params)
	require.ErrorIs(t, err, coreerrors.ErrInvalidAsset)

	require.NoError(t, f.engine.SetPairLock(ctx, admin, "PUNK", "Y", false))
	offer, err := f.engine.CreateOffer(ctx, params)
	require.NoError(t, err)

	require.NoError(t, f.engine.SetPairLock(ctx, admin, "y", "punk", true))
	_, err = f.engine.FillOffer(ctx, offer.ID, buyer, big.NewInt(1))
	require.ErrorIs(t, err, coreerrors.ErrLocked)
}

func TestPackableOfferEscrowsUnits(t *testing.T) {
	f := newFixture(t, bank.Config{})
	ctx := context.Background()
	require.NoError(t, f.bank.Deposit(seller, "GEM#3", big.NewInt(10)))

	offer, err := f.engine.CreateOffer(ctx, offers.CreateParams{
		Kind:       offers.KindPackable,
		Owner:      seller,
		SellAsset:  "gem#3",
		BuyAsset:   "y",
		SellAmount: big.NewInt(10),
		BuyAmount:  big.NewInt(50),
		IsPartial:  true,
		Auditor:    auditor,
	})
	require.NoError(t, err)

	deal, err := f.engine.FillOffer(ctx, offer.ID, buyer, big.NewInt(4))
	require.NoError(t, err)
	require.Equal(t, int64(20), deal.BuyAmount.Int64())
	require.Equal(t, int64(4), f.balance(t, vault, "GEM#3"))

	_, err = f.engine.Vote(ctx, deal.ID, buyer, escrow.VoteApprove)
	require.NoError(t, err)
	_, err = f.engine.Vote(ctx, deal.ID, seller, escrow.VoteApprove)
	require.NoError(t, err)
	require.Equal(t, int64(4), f.balance(t, buyer, "GEM#3"))
	require.Equal(t, int64(20), f.balance(t, seller, "Y"))
}

func TestOffererAllowListGatesCreation(t *testing.T) {
	f := newFixture(t, bank.Config{})
	ctx := context.Background()
	params := offers.CreateParams{
		Kind:       offers.KindCollectible,
		Owner:      seller,
		SellAsset:  "PUNK#7",
		BuyAsset:   "Y",
		SellAmount: big.NewInt(1),
		BuyAmount:  big.NewInt(500),
		Auditor:    auditor,
	}

	require.ErrorIs(t, f.engine.SetOfferer(ctx, outsider, outsider, "PUNK", true), coreerrors.ErrUnauthorized)
	require.NoError(t, f.engine.SetOfferer(ctx, admin, outsider, "PUNK", true))

	_, err := f.engine.CreateOffer(ctx, params)
	require.ErrorIs(t, err, coreerrors.ErrUnauthorized)
	allowed, err := f.engine.CanOffer(seller, "PUNK#7")
	require.NoError(t, err)
	require.False(t, allowed)

	require.NoError(t, f.engine.SetOfferer(ctx, admin, seller, "punk", true))
	_, err = f.engine.CreateOffer(ctx, params)
	require.NoError(t, err)
	tokens, err := f.engine.AllowedTokens(seller)
	require.NoError(t, err)
	require.Equal(t, []string{"PUNK"}, tokens)

	// Fungible offers stay open while only PUNK is restricted.
	_, err = f.engine.CreateOffer(ctx, partialOfferParams())
	require.NoError(t, err)
}

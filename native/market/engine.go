package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"p2pmarket/core/events"
	coreerrors "p2pmarket/core/errors"
	"p2pmarket/core/state"
	"p2pmarket/native/common"
	"p2pmarket/native/escrow"
	"p2pmarket/native/locks"
	"p2pmarket/native/offers"
	"p2pmarket/native/reputation"
	"p2pmarket/observability"
	telemetry "p2pmarket/observability/otel"
)

const pauseModule = "market"

var commissionKey = []byte("market/commission")

var (
	errNilEngine  = errors.New("market: engine not configured")
	errNilCustody = fmt.Errorf("%w: custody capability required", coreerrors.ErrNotConfigured)
	errNilVault   = fmt.Errorf("%w: vault account required", coreerrors.ErrNotConfigured)
)

// Config wires the engine's collaborators.
type Config struct {
	// Vault is the custody account holding escrowed deal legs.
	Vault   [20]byte
	Custody Custody
	// Directory resolves names. Nil accepts literal addresses only.
	Directory Directory
	// Pairs restricts tradeable pairs. Nil allows every pair.
	Pairs PairRegistry
	// Authorizer gates administrative operations. Nil denies them all.
	Authorizer Authorizer
	// CommissionRate seeds the rate when state holds none.
	CommissionRate *big.Int
}

// Engine is the single entry surface of the marketplace. Operations are
// serialised; each one runs inside a state transaction and either commits
// all of its writes, custody movements and records or none of them.
type Engine struct {
	mu sync.Mutex

	state      *state.Manager
	vault      [20]byte
	custody    Custody
	directory  Directory
	pairs      PairRegistry
	authorizer Authorizer
	seedRate   *big.Int

	sink    events.Emitter
	nowFn   func() time.Time
	logger  *slog.Logger
	metrics *observability.MarketEngineMetrics
	tracer  trace.Tracer
}

// NewEngine binds an engine to mgr.
func NewEngine(mgr *state.Manager, cfg Config) (*Engine, error) {
	if mgr == nil {
		return nil, errNilEngine
	}
	if cfg.Custody == nil {
		return nil, errNilCustody
	}
	if cfg.Vault == ([20]byte{}) {
		return nil, errNilVault
	}
	rate := big.NewInt(0)
	if cfg.CommissionRate != nil {
		if err := validateRate(cfg.CommissionRate); err != nil {
			return nil, err
		}
		rate = new(big.Int).Set(cfg.CommissionRate)
	}
	directory := cfg.Directory
	if directory == nil {
		directory = addressDirectory{}
	}
	return &Engine{
		state:      mgr,
		vault:      cfg.Vault,
		custody:    cfg.Custody,
		directory:  directory,
		pairs:      cfg.Pairs,
		authorizer: cfg.Authorizer,
		seedRate:   rate,
		sink:       events.NoopEmitter{},
		nowFn:      time.Now,
		logger:     slog.Default(),
		metrics:    observability.MarketMetrics(),
		tracer:     telemetry.Tracer(),
	}, nil
}

// SetEmitter configures the sink receiving committed records.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.sink = emitter
}

// SetNowFunc overrides the clock. Intended for tests.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	e.nowFn = now
}

// SetLogger overrides the structured logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger = logger
}

// Vault returns the escrow account.
func (e *Engine) Vault() [20]byte { return e.vault }

// session binds every module to one state transaction and one record queue.
type session struct {
	tx       *state.Tx
	queue    *events.Queue
	book     *offers.Book
	offerers *offers.Offerers
	deals    *escrow.Engine
	ledger   *reputation.Ledger
	locks    *locks.Registry
	pauses   *common.PauseStore
	saga     *saga

	resolved  *escrow.Deal
	byAuditor bool
	escalated bool
}

type modules struct {
	book     *offers.Book
	offerers *offers.Offerers
	deals    *escrow.Engine
	ledger   *reputation.Ledger
	locks    *locks.Registry
	pauses   *common.PauseStore
}

func (e *Engine) bind(store state.Store, emitter events.Emitter, rate *big.Int) modules {
	book := offers.NewBook(store)
	book.SetEmitter(emitter)
	book.SetNowFunc(e.nowFn)

	offerers := offers.NewOfferers(store)
	offerers.SetEmitter(emitter)

	ledger := reputation.NewLedger(store)
	ledger.SetEmitter(emitter)

	registry := locks.NewRegistry(store)
	registry.SetEmitter(emitter)

	deals := escrow.NewEngine()
	deals.SetState(store)
	deals.SetReputation(ledger)
	deals.SetLocks(registry)
	deals.SetEmitter(emitter)
	deals.SetCommissionRate(rate)
	now := e.nowFn
	deals.SetNowFunc(func() int64 { return now().Unix() })

	return modules{
		book:     book,
		offerers: offerers,
		deals:    deals,
		ledger:   ledger,
		locks:    registry,
		pauses:   common.NewPauseStore(store),
	}
}

func (e *Engine) loadCommission(store state.Store) (*big.Int, error) {
	rate := new(big.Int)
	ok, err := store.KVGet(commissionKey, rate)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(big.Int).Set(e.seedRate), nil
	}
	return rate, nil
}

func (e *Engine) begin() (*session, error) {
	tx := e.state.Begin()
	rate, err := e.loadCommission(tx)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	queue := events.NewQueue()
	m := e.bind(tx, queue, rate)
	return &session{
		tx:       tx,
		queue:    queue,
		book:     m.book,
		offerers: m.offerers,
		deals:    m.deals,
		ledger:   m.ledger,
		locks:    m.locks,
		pauses:   m.pauses,
		saga:     &saga{custody: e.custody, logger: e.logger, metrics: e.metrics},
	}, nil
}

// run executes fn as one atomic operation.
func (e *Engine) run(ctx context.Context, op string, fn func(*session) error) (err error) {
	if e == nil || e.state == nil {
		return errNilEngine
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	_, span := e.tracer.Start(ctx, "market."+op)
	start := time.Now()
	defer func() {
		e.metrics.ObserveOperation(op, err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.logger.Debug("market operation rejected", slog.String("op", op), slog.Any("error", err))
		}
		span.End()
	}()

	s, err := e.begin()
	if err != nil {
		return err
	}
	if err = fn(s); err == nil {
		err = s.tx.Commit()
	}
	if err != nil {
		s.saga.compensate()
		s.tx.Rollback()
		s.queue.Discard()
		return err
	}

	drained := s.queue.Drain(e.sink)
	span.SetAttributes(attribute.Int("market.records", len(drained)))
	if s.escalated {
		e.metrics.RecordEscalation()
	}
	if deal := s.resolved; deal != nil {
		e.metrics.RecordResolution(deal.IsSuccess, s.byAuditor)
		e.logger.Info("deal resolved",
			slog.String("dealId", fmt.Sprintf("0x%x", deal.ID)),
			slog.Bool("success", deal.IsSuccess),
			slog.Bool("byAuditor", s.byAuditor))
	}
	return nil
}

// view runs fn against committed state. Queries never write.
func (e *Engine) view(fn func(modules) error) error {
	if e == nil || e.state == nil {
		return errNilEngine
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	rate, err := e.loadCommission(e.state)
	if err != nil {
		return err
	}
	return fn(e.bind(e.state, events.NoopEmitter{}, rate))
}

func (e *Engine) authorize(caller [20]byte, role Role) error {
	if e.authorizer == nil || !e.authorizer.HasRole(caller, role) {
		return fmt.Errorf("%w: %s role required", coreerrors.ErrUnauthorized, role)
	}
	return nil
}

// HasRole reports whether account holds role.
func (e *Engine) HasRole(account [20]byte, role Role) bool {
	return e != nil && e.authorizer != nil && e.authorizer.HasRole(account, role)
}

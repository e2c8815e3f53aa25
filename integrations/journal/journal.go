// Package journal persists committed market records so indexers can replay
// them after the fact.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"p2pmarket/core/events"
)

// Record is one persisted market record.
type Record struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Seq        uint64            `gorm:"uniqueIndex;not null"`
	Type       string            `gorm:"index;not null"`
	OfferID    string            `gorm:"index"`
	DealID     string            `gorm:"index"`
	Attributes map[string]string `gorm:"serializer:json"`
	CreatedAt  time.Time
}

// TableName pins the table name.
func (Record) TableName() string { return "market_records" }

// Filter narrows List results. Empty fields match everything.
type Filter struct {
	Type    string
	OfferID string
	DealID  string
	// AfterSeq returns only records with a larger sequence number.
	AfterSeq uint64
	Limit    int
}

const defaultLimit = 100

// Sink writes records to a SQL database. It implements events.Emitter.
type Sink struct {
	db     *gorm.DB
	seq    atomic.Uint64
	failed atomic.Uint64
	logger *slog.Logger
	nowFn  func() time.Time
}

// Open connects to dsn. DSNs beginning with postgres:// or postgresql:// use
// the postgres driver; anything else is treated as a sqlite path.
func Open(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("journal: dsn required")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	return New(db)
}

// New wraps an existing connection, migrating the schema.
func New(db *gorm.DB) (*Sink, error) {
	if db == nil {
		return nil, errors.New("journal: database required")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	sink := &Sink{db: db, logger: slog.Default(), nowFn: time.Now}
	var last Record
	err := db.Order("seq desc").Limit(1).Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("journal: load sequence: %w", err)
	}
	sink.seq.Store(last.Seq)
	return sink, nil
}

// SetLogger overrides the logger used to report write failures.
func (s *Sink) SetLogger(l *slog.Logger) {
	if s == nil || l == nil {
		return
	}
	s.logger = l
}

// SetNowFunc overrides the record timestamp clock.
func (s *Sink) SetNowFunc(now func() time.Time) {
	if s == nil {
		return
	}
	if now == nil {
		now = time.Now
	}
	s.nowFn = now
}

// Emit implements events.Emitter. Write failures are logged and counted; they
// never fail the operation that produced the record.
func (s *Sink) Emit(evt events.Event) {
	if s == nil || evt == nil {
		return
	}
	if err := s.Append(context.Background(), evt); err != nil {
		s.failed.Add(1)
		s.logger.Error("journal append failed", slog.String("type", evt.EventType()), slog.Any("error", err))
	}
}

// Append persists evt.
func (s *Sink) Append(ctx context.Context, evt events.Event) error {
	if s == nil || s.db == nil {
		return errors.New("journal: sink not configured")
	}
	flat := evt.Event()
	if flat == nil {
		return nil
	}
	attrs := make(map[string]string, len(flat.Attributes))
	for k, v := range flat.Attributes {
		attrs[k] = v
	}
	rec := Record{
		ID:         uuid.New(),
		Seq:        s.seq.Add(1),
		Type:       flat.Type,
		OfferID:    attrs["offerId"],
		DealID:     attrs["dealId"],
		Attributes: attrs,
		CreatedAt:  s.nowFn().UTC(),
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// List returns records matching filter in sequence order.
func (s *Sink) List(ctx context.Context, filter Filter) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("journal: sink not configured")
	}
	query := s.db.WithContext(ctx).Model(&Record{})
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.OfferID != "" {
		query = query.Where("offer_id = ?", filter.OfferID)
	}
	if filter.DealID != "" {
		query = query.Where("deal_id = ?", filter.DealID)
	}
	if filter.AfterSeq > 0 {
		query = query.Where("seq > ?", filter.AfterSeq)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = defaultLimit
	}
	var records []Record
	if err := query.Order("seq asc").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// Failed reports how many records could not be written.
func (s *Sink) Failed() uint64 {
	if s == nil {
		return 0
	}
	return s.failed.Load()
}

// Close releases the underlying connection.
func (s *Sink) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

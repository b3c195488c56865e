package session

import (
	"context"
	"sync"
	"time"

	"github.com/falaja/tutor-bot/internal/domain/shared"
	"github.com/falaja/tutor-bot/internal/domain/student"
	"github.com/falaja/tutor-bot/pkg/logger"
)

// DefaultStoreTimeout bounds every durable store call.
const DefaultStoreTimeout = 5 * time.Second

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// An in-process cache in front of the durable record store. The cache is the
// authority for the lifetime of the process; the durable store is best effort.
// ══════════════════════════════════════════════════════════════════════════════

// Store holds student records. Callers must hold Lock(phone) around a
// Load/Persist cycle for the same phone.
type Store struct {
	durable student.Repository
	timeout time.Duration
	log     *logger.Logger
	metrics Metrics

	mu    sync.RWMutex
	cache map[string]*student.Record

	locks *keyedMutex
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreTimeout sets the timeout of each durable call.
func WithStoreTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithStoreMetrics sets the metrics sink.
func WithStoreMetrics(m Metrics) StoreOption {
	return func(s *Store) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewStore creates a Store. A nil durable repository runs the store cache-only.
func NewStore(durable student.Repository, log *logger.Logger, opts ...StoreOption) *Store {
	if log == nil {
		log = logger.Nop()
	}
	s := &Store{
		durable: durable,
		timeout: DefaultStoreTimeout,
		log:     log.With(logger.Component("session_store")),
		metrics: NopMetrics{},
		cache:   make(map[string]*student.Record),
		locks:   newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lock serializes processing for phone and returns the unlock function.
func (s *Store) Lock(phone string) func() {
	return s.locks.Lock(phone)
}

// Durable reports whether a durable store is configured.
func (s *Store) Durable() bool {
	return s.durable != nil
}

// Load returns the reconciled record for phone, or nil when none exists anywhere.
// The durable store is always consulted so out-of-band grants surface on the
// next message. A failed durable read degrades to the cached copy.
func (s *Store) Load(ctx context.Context, phone string, now time.Time) *student.Record {
	cached := s.cached(phone)
	durable := s.readDurable(ctx, phone)

	merged := Reconcile(cached, durable, now)
	if merged != nil {
		s.putCache(merged)
	}
	return merged
}

// Persist writes rec to the cache and, best effort, to the durable store.
// If the durable record gained active premium since it was loaded and rec is
// not premium, rec adopts the durable entitlement before writing.
//
// The full-record write only happens after the durable row was read (or is
// known to be absent). When that read fails the write is skipped: rec may be
// a blank record built during the same outage, and upserting it would replace
// a paying student's entitlement and progress. The cache keeps rec either way.
// Durable failures are logged and counted, never returned.
func (s *Store) Persist(ctx context.Context, rec *student.Record, now time.Time) {
	if s.durable == nil {
		s.putCache(rec)
		return
	}

	current, err := s.getDurable(ctx, rec.Phone)
	switch {
	case err != nil && !shared.IsNotFound(err):
		s.putCache(rec)
		s.metrics.DurableReadFailed()
		s.metrics.PersistFailed("upsert")
		s.log.Warn("durable read failed, skipping unverified write",
			logger.Phone(rec.Phone),
			logger.Operation("upsert"),
			logger.Err(err),
		)
		return
	case current != nil && current.IsPremium(now) && !rec.IsPremium(now):
		s.log.Info("keeping durable premium over stale entitlement",
			logger.Phone(rec.Phone),
			logger.Any("premium_until", current.PremiumUntil),
		)
		rec.SetEntitlement(current.Entitlement())
	}

	s.putCache(rec)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.durable.Upsert(ctx, rec); err != nil {
		s.metrics.PersistFailed("upsert")
		s.log.Error("persist failed, keeping in-memory copy",
			logger.Phone(rec.Phone),
			logger.Operation("upsert"),
			logger.Err(err),
		)
	}
}

// Cached returns a copy of the cached record for phone.
func (s *Store) Cached(phone string) (*student.Record, bool) {
	rec := s.cached(phone)
	return rec, rec != nil
}

// Len returns the number of cached records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// ─────────────────────────────────────────────────────────────────────────────
// Entitlement operations
// ─────────────────────────────────────────────────────────────────────────────

// EntitlementChange computes a new entitlement from the current one.
type EntitlementChange func(current student.Entitlement) (student.Entitlement, error)

// ChangeEntitlement applies change to phone's entitlement on the durable record
// and, if present, the cached record. The current entitlement is the reconciled
// view of both. The caller must hold Lock(phone).
//
// Unlike Persist, a durable failure is returned: operators and payment
// providers need to know the grant did not stick.
func (s *Store) ChangeEntitlement(ctx context.Context, phone string, now time.Time, change EntitlementChange) (student.Entitlement, error) {
	cached := s.cached(phone)
	durable, err := s.getDurable(ctx, phone)
	if err != nil && !shared.IsNotFound(err) {
		return student.Entitlement{}, err
	}

	var current student.Entitlement
	if merged := Reconcile(cached, durable, now); merged != nil {
		current = merged.Entitlement()
	} else {
		current = student.Entitlement{Plan: student.PlanFree}
	}

	next, err := change(current)
	if err != nil {
		return student.Entitlement{}, err
	}

	if s.durable != nil {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		if err := s.durable.UpsertEntitlement(ctx, phone, next, now); err != nil {
			s.metrics.PersistFailed("upsert_entitlement")
			return student.Entitlement{}, shared.WrapError("session", "ChangeEntitlement",
				shared.ErrServiceUnavailable, "durable entitlement write failed", err)
		}
	}

	s.mu.Lock()
	if rec, ok := s.cache[phone]; ok {
		rec.SetEntitlement(next)
	} else if s.durable == nil {
		// Cache-only mode has nowhere else to keep the grant.
		rec := student.New(phone, now)
		rec.SetEntitlement(next)
		s.cache[phone] = rec
	}
	s.mu.Unlock()

	return next, nil
}

// Entitlement returns the reconciled entitlement of phone.
func (s *Store) Entitlement(ctx context.Context, phone string, now time.Time) (student.Entitlement, bool, error) {
	cached := s.cached(phone)
	durable, err := s.getDurable(ctx, phone)
	if err != nil && !shared.IsNotFound(err) {
		if cached == nil {
			return student.Entitlement{}, false, err
		}
		s.log.Warn("durable read failed, answering from cache", logger.Phone(phone), logger.Err(err))
	}

	merged := Reconcile(cached, durable, now)
	if merged == nil {
		return student.Entitlement{}, false, nil
	}
	return merged.Entitlement(), true, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Reconciliation
// ─────────────────────────────────────────────────────────────────────────────

// Reconcile merges a cached and a durable copy of the same record.
//
// Entitlement: an active durable premium always wins; otherwise a cached copy
// that is not itself premium takes the durable values; an active cached premium
// is never downgraded by the durable copy.
//
// Every other field comes from the cached copy when it has a value.
func Reconcile(cached, durable *student.Record, now time.Time) *student.Record {
	switch {
	case cached == nil && durable == nil:
		return nil
	case cached == nil:
		return durable.Clone()
	case durable == nil:
		return cached.Clone()
	}

	merged := cached.Clone()

	switch {
	case durable.IsPremium(now):
		merged.SetEntitlement(durable.Entitlement())
	case !cached.IsPremium(now):
		merged.SetEntitlement(durable.Entitlement())
	}

	if merged.Name == "" {
		merged.Name = durable.Name
	}
	if merged.TargetLanguage == student.LanguageNone {
		merged.TargetLanguage = durable.TargetLanguage
	}
	if merged.Stage == nil {
		merged.Stage = durable.Clone().Stage
	}
	if merged.ChatMode == "" {
		merged.ChatMode = durable.ChatMode
	}
	if merged.LastSalesMessageAt == nil && durable.LastSalesMessageAt != nil {
		t := *durable.LastSalesMessageAt
		merged.LastSalesMessageAt = &t
	}
	if merged.LastPremiumExpiredNoticeAt == nil && durable.LastPremiumExpiredNoticeAt != nil {
		t := *durable.LastPremiumExpiredNoticeAt
		merged.LastPremiumExpiredNoticeAt = &t
	}
	if merged.CreatedAt.IsZero() || (!durable.CreatedAt.IsZero() && durable.CreatedAt.Before(merged.CreatedAt)) {
		merged.CreatedAt = durable.CreatedAt
	}
	if durable.LastMessageAt.After(merged.LastMessageAt) {
		merged.LastMessageAt = durable.LastMessageAt
	}
	return merged
}

// ─────────────────────────────────────────────────────────────────────────────
// Internals
// ─────────────────────────────────────────────────────────────────────────────

func (s *Store) cached(phone string) *student.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache[phone].Clone()
}

func (s *Store) putCache(rec *student.Record) {
	s.mu.Lock()
	s.cache[rec.Phone] = rec.Clone()
	s.mu.Unlock()
}

func (s *Store) getDurable(ctx context.Context, phone string) (*student.Record, error) {
	if s.durable == nil {
		return nil, shared.ErrStudentNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.durable.Get(ctx, phone)
}

// readDurable treats every failure as "no durable record".
func (s *Store) readDurable(ctx context.Context, phone string) *student.Record {
	rec, err := s.getDurable(ctx, phone)
	if err != nil {
		if !shared.IsNotFound(err) {
			s.metrics.DurableReadFailed()
			s.log.Warn("durable read failed, using cache only",
				logger.Phone(phone),
				logger.Operation("get"),
				logger.Err(err),
			)
		}
		return nil
	}
	return rec
}

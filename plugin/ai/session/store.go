package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/finsight/advisor/store/cache"
	"github.com/finsight/advisor/store/db"
)

// ErrNotFound is returned when a session id does not resolve, either
// because it never existed, expired, or was closed.
var ErrNotFound = errors.New("session not found")

const (
	cachePrefix = "session:"
	// DefaultTTL is the inactivity window after which a session becomes
	// unreachable. Every durable write resets it; reads do not.
	DefaultTTL = time.Hour
)

// Store is the session persistence contract.
type Store interface {
	// Create starts a new session for the ticker with the given seed
	// context.
	Create(ctx context.Context, ticker string, seedContext json.RawMessage) (*Session, error)

	// Load resolves a session id. Returns ErrNotFound for unknown,
	// expired, or closed sessions.
	Load(ctx context.Context, id string) (*Session, error)

	// Save persists the session write-through and resets its TTL.
	Save(ctx context.Context, session *Session) error

	// Close removes the session from both tiers. Closing an unknown
	// session is a no-op.
	Close(ctx context.Context, id string) error
}

// store implements Store with an LRU cache over the sqlite repository.
type store struct {
	db    *db.DB
	cache *cache.LRUCache
	ttl   time.Duration
}

// Option configures the store.
type Option func(*store)

// WithTTL overrides the session TTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewStore creates a session store over the given database. The cache
// tier shares the session TTL so a cache hit can never outlive the
// durable record.
func NewStore(database *db.DB, opts ...Option) Store {
	s := &store{
		db:  database,
		ttl: DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = cache.NewLRUCache(1000, s.ttl)
	return s
}

func (s *store) Create(ctx context.Context, ticker string, seedContext json.RawMessage) (*Session, error) {
	if ticker == "" {
		return nil, errors.New("ticker is required")
	}

	session := &Session{
		ID:          NewSessionID(ticker),
		Ticker:      ticker,
		SeedContext: seedContext,
		History:     []Turn{},
		CreatedAt:   time.Now(),
	}

	if err := s.Save(ctx, session); err != nil {
		return nil, err
	}

	slog.Info("session created", "session_id", session.ID, "ticker", ticker)
	return session, nil
}

func (s *store) Load(ctx context.Context, id string) (*Session, error) {
	// Fast path: in-process cache.
	if data, ok := s.cache.Get(cachePrefix + id); ok {
		session, err := decodeSession(data)
		if err == nil {
			return session, nil
		}
		slog.Warn("dropping undecodable cached session", "session_id", id, "error", err)
		s.cache.Delete(cachePrefix + id)
	}

	record, err := s.db.GetSession(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load session")
	}
	if record == nil {
		return nil, ErrNotFound
	}

	session, err := decodeSession(record.Payload)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode session %s", id)
	}

	// Repopulate the cache on a durable hit. This does not refresh the
	// durable TTL; only writes do.
	s.cache.SetWithTTL(cachePrefix+id, record.Payload, time.Until(record.ExpiresAt))

	return session, nil
}

func (s *store) Save(ctx context.Context, session *Session) error {
	if session == nil || session.ID == "" {
		return errors.New("session id is required")
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return errors.Wrap(err, "failed to marshal session")
	}

	record := &db.SessionRecord{
		ID:        session.ID,
		Ticker:    session.Ticker,
		Payload:   payload,
		CreatedAt: session.CreatedAt,
	}
	if err := s.db.UpsertSession(ctx, record, s.ttl); err != nil {
		return errors.Wrap(err, "failed to save session")
	}

	// Write-through: both tiers updated synchronously.
	s.cache.SetWithTTL(cachePrefix+session.ID, payload, s.ttl)
	return nil
}

func (s *store) Close(ctx context.Context, id string) error {
	s.cache.Delete(cachePrefix + id)
	if err := s.db.DeleteSession(ctx, id); err != nil {
		return errors.Wrap(err, "failed to close session")
	}
	slog.Info("session closed", "session_id", id)
	return nil
}

func decodeSession(data []byte) (*Session, error) {
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

var _ Store = (*store)(nil)

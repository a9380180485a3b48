package nisab

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sadaka-platform/zakat/internal/telegram"
)

// DefaultSessionTTL bounds how long a session keeps its resolved nisab.
const DefaultSessionTTL = time.Hour

// Sessions resolves the nisab once per Mini-App session, keyed by the
// telegram.Session carried in the request context. Every new launch of the
// Mini-App resolves afresh, so a nisab updated on the backend reaches the
// next session. Requests without a session resolve on every call.
//
// A failed resolution answers with the fallback and is not remembered, so
// the next request of that session tries again.
type Sessions struct {
	provider Provider
	fallback Info
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]sessionEntry
}

type sessionEntry struct {
	info    Info
	expires time.Time
}

// NewSessions wraps p. fallback is served whenever p fails. A ttl <= 0
// means DefaultSessionTTL.
func NewSessions(p Provider, fallback Info, ttl time.Duration, logger *zap.Logger) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sessions{
		provider: p,
		fallback: fallback,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
		entries:  make(map[string]sessionEntry),
	}
}

// Current implements Provider. It never returns an error.
func (s *Sessions) Current(ctx context.Context) (Info, error) {
	key := sessionKey(telegram.FromContext(ctx))
	if key == "" {
		info, _ := s.resolve(ctx, "")
		return info, nil
	}

	if info, ok := s.lookup(key); ok {
		return info, nil
	}

	v, _, _ := s.group.Do(key, func() (interface{}, error) {
		if info, ok := s.lookup(key); ok {
			return info, nil
		}
		info, ok := s.resolve(ctx, key)
		if ok {
			s.store(key, info)
		}
		return info, nil
	})
	return v.(Info), nil
}

func (s *Sessions) resolve(ctx context.Context, key string) (Info, bool) {
	info, err := s.provider.Current(ctx)
	if err != nil {
		s.logger.Warn("nisab unavailable, using fallback",
			zap.String("session", key),
			zap.String("nisab_amount", s.fallback.NisabAmount.String()),
			zap.Error(err),
		)
		return s.fallback, false
	}
	s.logger.Debug("nisab resolved",
		zap.String("session", key),
		zap.String("nisab_amount", info.NisabAmount.String()),
		zap.String("currency", info.Currency),
	)
	return info, true
}

func (s *Sessions) lookup(key string) (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !s.now().Before(e.expires) {
		return Info{}, false
	}
	return e.info, true
}

func (s *Sessions) store(key string, info Info) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, k)
		}
	}
	s.entries[key] = sessionEntry{info: info, expires: now.Add(s.ttl)}
}

// Len reports how many sessions currently hold a resolved nisab.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// sessionKey identifies one Mini-App launch. Telegram issues a query_id per
// launch when it can; otherwise the user and auth date tell launches apart.
func sessionKey(s *telegram.Session) string {
	if s == nil {
		return ""
	}
	if s.QueryID != "" {
		return "q:" + s.QueryID
	}
	id, err := s.UserID()
	if err != nil {
		return ""
	}
	key := "u:" + strconv.FormatInt(id, 10)
	if !s.AuthDate.IsZero() {
		key += ":" + strconv.FormatInt(s.AuthDate.Unix(), 10)
	}
	return key
}

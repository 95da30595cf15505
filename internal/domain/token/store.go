package token

import (
	"sync"
	"time"
)

// Record is a stored token with its expiry
type Record struct {
	Token     Token
	CreatedAt time.Time
	// ExpiresAt is zero when the record never expires
	ExpiresAt time.Time
}

// Remaining returns whole seconds left before expiry. It is nil when the
// record does not expire or has no whole second left.
func (r Record) Remaining(now time.Time) *int {
	if r.ExpiresAt.IsZero() {
		return nil
	}
	secs := int(r.ExpiresAt.Sub(now) / time.Second)
	if secs <= 0 {
		return nil
	}
	return &secs
}

// Store keeps the latest token per user in memory.
// Expired records are dropped lazily on read.
type Store struct {
	mu         sync.Mutex
	records    map[int64]Record
	defaultTTL time.Duration
	now        func() time.Time
}

// NewStore creates a store. Tokens without expires_in, or with a negative
// one, live for defaultTTL; a non-positive defaultTTL keeps them until
// replaced. An expires_in of zero never expires.
func NewStore(defaultTTL time.Duration) *Store {
	return NewStoreWithClock(defaultTTL, time.Now)
}

// NewStoreWithClock creates a store with a custom time source
func NewStoreWithClock(defaultTTL time.Duration, now func() time.Time) *Store {
	return &Store{
		records:    make(map[int64]Record),
		defaultTTL: defaultTTL,
		now:        now,
	}
}

// Set stores tok for userID, replacing any previous record
func (s *Store) Set(userID int64, tok Token) Record {
	now := s.now()

	ttl := s.defaultTTL
	if tok.ExpiresIn != nil {
		switch secs := *tok.ExpiresIn; {
		case secs > 0:
			ttl = time.Duration(secs) * time.Second
		case secs == 0:
			ttl = 0
		}
	}

	rec := Record{Token: tok, CreatedAt: now}
	if ttl > 0 {
		rec.ExpiresAt = now.Add(ttl)
	}

	s.mu.Lock()
	s.records[userID] = rec
	s.mu.Unlock()
	return rec
}

// Get returns the live record for userID
func (s *Store) Get(userID int64) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return Record{}, false
	}
	if !rec.ExpiresAt.IsZero() && rec.ExpiresAt.Before(s.now()) {
		delete(s.records, userID)
		return Record{}, false
	}
	return rec, true
}

// Delete removes the record for userID
func (s *Store) Delete(userID int64) {
	s.mu.Lock()
	delete(s.records, userID)
	s.mu.Unlock()
}

// Len returns the number of records, expired ones included
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

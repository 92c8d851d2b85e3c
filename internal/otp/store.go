package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

const (
	// CodeTTL is how long a code stays valid.
	CodeTTL = 10 * time.Minute
	// MaxAttempts is the number of wrong guesses allowed per code.
	MaxAttempts = 5
)

// GenerateCode returns a 6-digit code, uniform in [100000, 999999]
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

type record struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
	Attempts  int       `json:"attempts"`
}

// Store keeps at most one code per email
type Store struct {
	mu    sync.Mutex
	cache Cache
	now   func() time.Time
}

// NewStore creates a store on top of cache
func NewStore(cache Cache) *Store {
	return &Store{cache: cache, now: time.Now}
}

func storeKey(email string) string {
	return "otp:" + strings.ToLower(strings.TrimSpace(email))
}

// Put stores code for email, replacing any previous code and resetting attempts
func (s *Store) Put(ctx context.Context, email, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ctx, storeKey(email), record{Code: code, ExpiresAt: s.now().Add(CodeTTL)})
}

// Verify checks code against the stored one. A match consumes the record.
// Expired records and records that already used up MaxAttempts are deleted and report false.
// The error is only set when the cache fails.
func (s *Store) Verify(ctx context.Context, email, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey(email)
	rec, ok, err := s.read(ctx, key)
	if err != nil || !ok {
		return false, err
	}

	if s.now().After(rec.ExpiresAt) || rec.Attempts >= MaxAttempts {
		return false, s.cache.Delete(ctx, key)
	}

	rec.Attempts++
	if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(code)) == 1 {
		return true, s.cache.Delete(ctx, key)
	}
	return false, s.write(ctx, key, rec)
}

// Attempts returns the failed attempts on the live record for email, 0 when there is none
func (s *Store) Attempts(ctx context.Context, email string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok, err := s.read(ctx, storeKey(email))
	if err != nil || !ok || s.now().After(rec.ExpiresAt) {
		return 0, err
	}
	return rec.Attempts, nil
}

func (s *Store) read(ctx context.Context, key string) (record, bool, error) {
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return record{}, false, fmt.Errorf("read otp: %w", err)
	}
	if !ok {
		return record{}, false, nil
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return record{}, false, fmt.Errorf("decode otp: %w", err)
	}
	return rec, true, nil
}

func (s *Store) write(ctx context.Context, key string, rec record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode otp: %w", err)
	}
	// keep the entry slightly past expiry so Verify can observe and delete it
	ttl := rec.ExpiresAt.Sub(s.now()) + time.Minute
	if err := s.cache.Set(ctx, key, raw, ttl); err != nil {
		return fmt.Errorf("write otp: %w", err)
	}
	return nil
}

package codes

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/metrics"
)

// Store is the persistence surface the service needs. *Repository
// satisfies it; tests use an in-memory fake.
type Store interface {
	Rotate(ctx context.Context, c Code) (prevCode string, err error)
	IsCodeActive(ctx context.Context, code string) (bool, error)
	FindActiveByCode(ctx context.Context, code string) (*Code, error)
	ActiveByStudent(ctx context.Context, studentID string) (*Code, error)
	Deactivate(ctx context.Context, studentID string) (prevCode string, err error)
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// Service issues, validates and revokes verification codes.
type Service struct {
	store      Store
	cache      *Cache
	attempts   int
	defaultTTL time.Duration

	// overridable in tests to force collisions
	draw func() (string, error)
	now  func() time.Time
}

// NewService creates a code service. attempts bounds the collision retry
// loop; defaultTTL is applied when the caller asks for no explicit expiry
// (zero disables expiry entirely).
func NewService(store Store, cache *Cache, attempts int, defaultTTL time.Duration) *Service {
	if attempts <= 0 {
		attempts = 10
	}
	return &Service{
		store:      store,
		cache:      cache,
		attempts:   attempts,
		defaultTTL: defaultTTL,
		draw:       randomCode,
		now:        time.Now,
	}
}

// IssueCode rotates the student's verification code: the previous active
// code (if any) is deactivated and a fresh unique one activated in the
// same transaction. Exhausting the attempt budget fails loudly with
// ErrCodeSpaceExhausted and leaves no partial state behind.
func (s *Service) IssueCode(ctx context.Context, studentID string, expiresIn *time.Duration) (Code, error) {
	if studentID == "" {
		return Code{}, errors.New("student id required")
	}
	now := s.now()
	ttl := s.defaultTTL
	if expiresIn != nil {
		ttl = *expiresIn
	}
	var expiresAt *time.Time
	if ttl > 0 {
		t := now.Add(ttl)
		expiresAt = &t
	}

	for attempt := 0; attempt < s.attempts; attempt++ {
		candidate, err := s.draw()
		if err != nil {
			return Code{}, err
		}
		taken, err := s.store.IsCodeActive(ctx, candidate)
		if err != nil {
			return Code{}, err
		}
		if taken {
			metrics.CodeCollisions.Inc()
			continue
		}

		c := Code{
			ID:        uuid.NewString(),
			StudentID: studentID,
			Code:      candidate,
			IsActive:  true,
			CreatedAt: now,
			ExpiresAt: expiresAt,
		}
		prev, err := s.store.Rotate(ctx, c)
		if err != nil {
			if errors.Is(err, ErrCodeTaken) {
				// lost a race for the value between check and insert
				metrics.CodeCollisions.Inc()
				continue
			}
			return Code{}, err
		}

		s.cache.Del(ctx, prev)
		s.cache.Set(ctx, candidate, studentID, s.cacheTTL(expiresAt, now))
		metrics.CodesIssued.Inc()
		return c, nil
	}
	return Code{}, ErrCodeSpaceExhausted
}

func (s *Service) cacheTTL(expiresAt *time.Time, now time.Time) time.Duration {
	if expiresAt == nil {
		return 24 * time.Hour
	}
	return expiresAt.Sub(now)
}

// ValidateCode resolves a submitted code to its owner. Expired codes fail
// with ErrCodeExpired even when a cleanup pass has not flipped the active
// flag yet.
func (s *Service) ValidateCode(ctx context.Context, code string) (string, error) {
	if code == "" {
		return "", ErrCodeNotFound
	}
	if studentID, ok := s.cache.Get(ctx, code); ok {
		return studentID, nil
	}

	c, err := s.store.FindActiveByCode(ctx, code)
	if err != nil {
		return "", err
	}
	if c == nil {
		return "", ErrCodeNotFound
	}
	now := s.now()
	if c.Expired(now) {
		return "", ErrCodeExpired
	}
	s.cache.Set(ctx, code, c.StudentID, s.cacheTTL(c.ExpiresAt, now))
	return c.StudentID, nil
}

// ActiveCode returns the student's current valid code, or nil when none
// exists or the last one has expired.
func (s *Service) ActiveCode(ctx context.Context, studentID string) (*Code, error) {
	c, err := s.store.ActiveByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if c == nil || c.Expired(s.now()) {
		return nil, nil
	}
	return c, nil
}

// Revoke deactivates the student's current code without issuing a new one.
func (s *Service) Revoke(ctx context.Context, studentID string) error {
	if studentID == "" {
		return errors.New("student id required")
	}
	prev, err := s.store.Deactivate(ctx, studentID)
	if err != nil {
		return err
	}
	s.cache.Del(ctx, prev)
	return nil
}

// ExpireStale flips the active flag on codes past their expiry. Run from
// the reconciler after the sweep.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	return s.store.ExpireStale(ctx, s.now())
}

package services

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/zarkopopovski/jane/apperrors"
	"github.com/zarkopopovski/jane/db"
	"github.com/zarkopopovski/jane/metrics"
	"github.com/zarkopopovski/jane/models"
)

// ResponseKey is the cache key for a context-free model response.
func ResponseKey(message string) string {
	sum := sha256.Sum256([]byte(message))
	return "response:" + hex.EncodeToString(sum[:])
}

// CacheService stores model responses in the cache table. Hot entries are
// also kept in process, never longer than the row itself lives.
type CacheService struct {
	db    *db.DBManager
	local *cache.Cache
	log   logrus.FieldLogger
	now   func() time.Time
}

func NewCacheService(dbm *db.DBManager, log logrus.FieldLogger) *CacheService {
	return &CacheService{
		db:    dbm,
		local: cache.New(cache.NoExpiration, 10*time.Minute),
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the unexpired response stored under key.
func (s *CacheService) Get(ctx context.Context, key string) (string, bool, error) {
	now := s.now()

	if v, ok := s.local.Get(key); ok {
		entry := v.(models.CacheEntry)
		if !entry.IsExpired(now) {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return entry.Response, true, nil
		}
		s.local.Delete(key)
	}

	var entry models.CacheEntry
	err := s.db.DB.GetContext(ctx, &entry, "SELECT id, response, expires FROM cache WHERE id=$1", key)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.Database("Failed to read response cache", err)
	}

	if entry.IsExpired(now) {
		metrics.CacheLookups.WithLabelValues("expired").Inc()
		return "", false, nil
	}

	s.local.Set(key, entry, entry.Expires.Sub(now))
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return entry.Response, true, nil
}

// Set upserts the response with expiry now+ttl.
func (s *CacheService) Set(ctx context.Context, key, response string, ttl time.Duration) error {
	expires := s.now().Add(ttl)

	query := `INSERT INTO cache(id, response, expires) VALUES($1, $2, $3)
		ON CONFLICT(id) DO UPDATE SET response=excluded.response, expires=excluded.expires`

	if _, err := s.db.DB.ExecContext(ctx, query, key, response, expires); err != nil {
		return apperrors.Database("Failed to store response cache", err)
	}

	s.local.Set(key, models.CacheEntry{ID: key, Response: response, Expires: expires}, ttl)
	return nil
}

// Clear removes every cached response.
func (s *CacheService) Clear(ctx context.Context) error {
	return s.ClearWith(ctx, s.db.DB)
}

// ClearWith deletes the cache rows through ext, which may be a transaction,
// and flushes the in-process layer.
func (s *CacheService) ClearWith(ctx context.Context, ext sqlx.ExecerContext) error {
	if _, err := ext.ExecContext(ctx, "DELETE FROM cache"); err != nil {
		return apperrors.Database("Failed to clear response cache", err)
	}
	s.local.Flush()
	return nil
}

// DeleteExpired sweeps expired rows and returns how many were removed.
func (s *CacheService) DeleteExpired(ctx context.Context) (int64, error) {
	s.local.DeleteExpired()

	res, err := s.db.DB.ExecContext(ctx, "DELETE FROM cache WHERE expires <= $1", s.now())
	if err != nil {
		return 0, apperrors.Database("Failed to delete expired cache rows", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.WithField("rows", n).Info("Expired cache rows removed")
	}
	return n, nil
}

// RunJanitor calls DeleteExpired every interval until ctx is done.
func (s *CacheService) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.DeleteExpired(ctx)
			if err != nil {
				s.log.WithError(err).Error("Cache janitor failed")
				continue
			}
			metrics.ExpiredCacheRowsDeleted.Add(float64(n))
		}
	}
}

package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/zarkopopovski/jane/metrics"
)

// Rate is a request budget over a fixed period, e.g. 30 per minute.
type Rate struct {
	Limit  int
	Period time.Duration
}

func (r Rate) String() string {
	return fmt.Sprintf("%d per %s", r.Limit, r.Period)
}

var periods = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
}

// ParseRate reads strings such as "30 per minute", "1000/hour" or
// "5 per 10 seconds".
func ParseRate(s string) (Rate, error) {
	fields := strings.Fields(strings.ToLower(strings.ReplaceAll(s, "/", " per ")))
	if len(fields) < 3 || fields[1] != "per" {
		return Rate{}, fmt.Errorf("ratelimit: cannot parse %q", s)
	}

	limit, err := strconv.Atoi(fields[0])
	if err != nil || limit <= 0 {
		return Rate{}, fmt.Errorf("ratelimit: invalid limit in %q", s)
	}

	multiplier := 1
	unit := fields[2]
	if len(fields) == 4 {
		multiplier, err = strconv.Atoi(fields[2])
		if err != nil || multiplier <= 0 {
			return Rate{}, fmt.Errorf("ratelimit: invalid period in %q", s)
		}
		unit = fields[3]
	} else if len(fields) > 4 {
		return Rate{}, fmt.Errorf("ratelimit: cannot parse %q", s)
	}

	period, ok := periods[strings.TrimSuffix(unit, "s")]
	if !ok {
		return Rate{}, fmt.Errorf("ratelimit: unknown unit %q", unit)
	}

	return Rate{Limit: limit, Period: time.Duration(multiplier) * period}, nil
}

// Store decides whether another request under key fits the rate.
type Store interface {
	Allow(ctx context.Context, key string, r Rate) (bool, error)
}

type memoryEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryStore keeps a token bucket per key in process.
type MemoryStore struct {
	mu       sync.Mutex
	limiters map[string]*memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{limiters: make(map[string]*memoryEntry)}
}

func (m *MemoryStore) Allow(_ context.Context, key string, r Rate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.limiters[key]
	if !ok {
		entry = &memoryEntry{
			limiter: rate.NewLimiter(rate.Every(r.Period/time.Duration(r.Limit)), r.Limit),
		}
		m.limiters[key] = entry
	}
	entry.lastSeen = time.Now()

	return entry.limiter.Allow(), nil
}

// Sweep drops buckets idle for longer than maxIdle.
func (m *MemoryStore) Sweep(maxIdle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	removed := 0
	for key, entry := range m.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(m.limiters, key)
			removed++
		}
	}
	return removed
}

// RedisStore counts requests in fixed windows shared by every instance.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) Allow(ctx context.Context, key string, r Rate) (bool, error) {
	window := s.now().UnixNano() / int64(r.Period)
	windowKey := fmt.Sprintf("%s:%d", key, window)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, r.Period)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	return incr.Val() <= int64(r.Limit), nil
}

// NewStore picks the backend from a storage URI: memory:// or redis://...
func NewStore(uri string) (Store, error) {
	if uri == "" || strings.HasPrefix(uri, "memory://") {
		return NewMemoryStore(), nil
	}

	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: storage uri: %w", err)
	}
	return NewRedisStore(redis.NewClient(opts)), nil
}

type RateLimiter struct {
	store      Store
	enabled    bool
	trustProxy bool
	log        logrus.FieldLogger
}

func NewRateLimiter(store Store, enabled bool, log logrus.FieldLogger) *RateLimiter {
	return &RateLimiter{
		store:   store,
		enabled: enabled,
		log:     log,
	}
}

// TrustProxy makes the limiter key on X-Forwarded-For / X-Real-IP. Only
// enable it behind a proxy that overwrites those headers.
func (rl *RateLimiter) TrustProxy(trust bool) *RateLimiter {
	rl.trustProxy = trust
	return rl
}

func (rl *RateLimiter) clientIP(r *http.Request) string {
	if rl.trustProxy {
		if ip := ForwardedIP(r); ip != "" {
			return ip
		}
	}
	return RealIP(r)
}

// Limit applies r per client IP to the wrapped handler. Requests over budget
// are passed to denied. Store failures let the request through.
func (rl *RateLimiter) Limit(name string, r Rate, denied http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !rl.enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			client := rl.clientIP(req)
			key := "ratelimit:" + name + ":" + client

			allowed, err := rl.store.Allow(req.Context(), key, r)
			if err != nil {
				rl.log.WithError(err).Warn("Rate limit store unavailable")
				next.ServeHTTP(w, req)
				return
			}
			if !allowed {
				metrics.RateLimitHits.WithLabelValues(name).Inc()
				rl.log.WithFields(logrus.Fields{
					"route":      name,
					"client":     client,
					"request_id": GetRequestID(req.Context()),
				}).Warn("Rate limit exceeded")

				w.Header().Set("Retry-After", strconv.Itoa(int(r.Period.Seconds())))
				denied.ServeHTTP(w, req)
				return
			}

			next.ServeHTTP(w, req)
		})
	}
}

// RunSweeper periodically clears idle in-memory buckets until ctx is done.
func (rl *RateLimiter) RunSweeper(ctx context.Context, interval time.Duration) {
	mem, ok := rl.store.(*MemoryStore)
	if !ok {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := mem.Sweep(time.Hour); n > 0 {
				rl.log.WithField("buckets", n).Debug("Swept idle rate limit buckets")
			}
		}
	}
}

// ForwardedIP returns the client IP reported by a proxy, or "".
func ForwardedIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	return strings.TrimSpace(r.Header.Get("X-Real-IP"))
}

// RealIP is the peer address of the connection, without the port.
func RealIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

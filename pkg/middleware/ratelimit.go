package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/platinummonkey/tenantry/pkg/apperrors"
	"github.com/platinummonkey/tenantry/pkg/httputil"
	"github.com/platinummonkey/tenantry/pkg/observability"
)

// Limit is the allowance for one key: Requests per Window, with Burst
// requests allowed back to back by the in-process limiter.
type Limit struct {
	Requests int
	Window   time.Duration
	Burst    int
}

func (l Limit) every() time.Duration {
	return l.Window / time.Duration(l.Requests)
}

// DefaultLimit is applied to the sensitive unauthenticated endpoints
func DefaultLimit() Limit {
	return Limit{Requests: 10, Window: time.Minute, Burst: 5}
}

// Decision is the outcome of one rate-limit check
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether a request for key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

const (
	defaultMaxKeys = 10000
)

// LocalLimiter is an in-process token bucket per key. Idle buckets are
// evicted so the map stays bounded.
type LocalLimiter struct {
	limit   Limit
	mu      sync.Mutex
	buckets *expirable.LRU[string, *rate.Limiter]
	now     func() time.Time
}

// NewLocalLimiter creates an in-process limiter
func NewLocalLimiter(limit Limit) *LocalLimiter {
	if limit.Requests <= 0 {
		limit.Requests = DefaultLimit().Requests
	}
	if limit.Window <= 0 {
		limit.Window = DefaultLimit().Window
	}
	if limit.Burst <= 0 {
		limit.Burst = 1
	}
	// a bucket idle this long has refilled completely
	idle := 2*limit.Window + time.Duration(limit.Burst)*limit.every()
	return &LocalLimiter{
		limit:   limit,
		buckets: expirable.NewLRU[string, *rate.Limiter](defaultMaxKeys, nil, idle),
		now:     time.Now,
	}
}

// Allow takes one token from key's bucket
func (l *LocalLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	lim, ok := l.buckets.Get(key)
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.limit.every()), l.limit.Burst)
		l.buckets.Add(key, lim)
	}
	l.mu.Unlock()

	decision := Decision{Limit: l.limit.Burst}
	if !lim.AllowN(now, 1) {
		missing := 1 - lim.TokensAt(now)
		decision.RetryAfter = time.Duration(missing / float64(lim.Limit()) * float64(time.Second))
		return decision, nil
	}

	decision.Allowed = true
	decision.Remaining = int(math.Max(0, math.Floor(lim.TokensAt(now))))
	return decision, nil
}

// FallbackLimiter consults primary and switches to fallback whenever primary
// errors, so a redis outage still limits per instance.
type FallbackLimiter struct {
	primary  Limiter
	fallback Limiter
	logger   *observability.Logger
}

// NewFallbackLimiter wraps primary with an in-process fallback
func NewFallbackLimiter(primary, fallback Limiter, logger *observability.Logger) *FallbackLimiter {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &FallbackLimiter{primary: primary, fallback: fallback, logger: logger}
}

// Allow asks primary first
func (f *FallbackLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	d, err := f.primary.Allow(ctx, key)
	if err == nil {
		return d, nil
	}
	f.logger.WithError(err).Warn("rate limiter unavailable, using in-process fallback")
	return f.fallback.Allow(ctx, key)
}

// Rule applies a limiter scope to one route, identified by its mux path
// template and method.
type Rule struct {
	Scope  string
	Method string
	Path   string
}

// RateLimit limits every request passing through it by scope and client IP
func RateLimit(limiter Limiter, scope string, metrics *observability.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !check(w, r, limiter, scope, metrics) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitRules limits only the routes named by rules. It is meant for
// router.Use, where the matched route is known.
func RateLimitRules(limiter Limiter, metrics *observability.Metrics, rules ...Rule) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if scope, ok := matchRule(r, rules); ok && !check(w, r, limiter, scope, metrics) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func matchRule(r *http.Request, rules []Rule) (string, bool) {
	route := mux.CurrentRoute(r)
	if route == nil {
		return "", false
	}
	tmpl, err := route.GetPathTemplate()
	if err != nil {
		return "", false
	}
	for _, rule := range rules {
		if rule.Path == tmpl && (rule.Method == "" || rule.Method == r.Method) {
			return rule.Scope, true
		}
	}
	return "", false
}

// check writes a 429 and returns false when the request is over its limit.
// Limiter errors let the request through.
func check(w http.ResponseWriter, r *http.Request, limiter Limiter, scope string, metrics *observability.Metrics) bool {
	key := scope + ":" + httputil.ClientIP(r)
	d, err := limiter.Allow(r.Context(), key)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).WithField("scope", scope).Warn("rate limit check failed")
		return true
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if d.Allowed {
		return true
	}

	metrics.RateLimited(scope)
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(d.RetryAfter)))
	httputil.WriteAppError(w, r, apperrors.RateLimited("too many requests, retry later"))
	return false
}

func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

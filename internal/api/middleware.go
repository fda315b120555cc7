package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/AITrekker/RAG-sub000/internal/auth"
	"github.com/AITrekker/RAG-sub000/internal/models"
	"github.com/AITrekker/RAG-sub000/internal/observability"
)

const tenantContextKey = "tenant"

// RequestLogger logs one line per request with latency and status.
func RequestLogger(logger observability.Logger) gin.HandlerFunc {
	log := logger.WithPrefix("http")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info("request", map[string]interface{}{
			"method":     c.Request.Method,
			"path":       path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
	}
}

// rateLimiterStore keeps a token bucket per credential. Entries idle past
// their expiry are dropped lazily on access so the map stays bounded by the
// set of recently active keys.
type rateLimiterStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	expiry   map[string]time.Time
	rps      rate.Limit
	burst    int
	ttl      time.Duration
}

func newRateLimiterStore(rps, burst int) *rateLimiterStore {
	return &rateLimiterStore{
		limiters: make(map[string]*rate.Limiter),
		expiry:   make(map[string]time.Time),
		rps:      rate.Limit(rps),
		burst:    burst,
		ttl:      10 * time.Minute,
	}
}

func (s *rateLimiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if limiter, ok := s.limiters[key]; ok && now.Before(s.expiry[key]) {
		s.expiry[key] = now.Add(s.ttl)
		return limiter
	}

	for k, exp := range s.expiry {
		if now.After(exp) {
			delete(s.limiters, k)
			delete(s.expiry, k)
		}
	}

	limiter := rate.NewLimiter(s.rps, s.burst)
	s.limiters[key] = limiter
	s.expiry[key] = now.Add(s.ttl)
	return limiter
}

// RateLimiter enforces a per-credential request rate. The bucket key is the
// presented API key so one noisy tenant cannot starve the rest; anonymous
// requests share a bucket per client IP.
func RateLimiter(rps, burst int) gin.HandlerFunc {
	store := newRateLimiterStore(rps, burst)
	return func(c *gin.Context) {
		key := credentialFrom(c)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}
		if !store.get(key).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody{
				Error:   "rate_limited",
				Message: "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// TenantAuth resolves the request credential to a tenant and stashes it in
// the request context. Bearer tokens that look like JWTs take the token path;
// everything else is treated as an API key.
func TenantAuth(svc *auth.Service, logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential := credentialFrom(c)

		var (
			tenant *models.Tenant
			err    error
		)
		if looksLikeJWT(credential) {
			tenant, err = svc.AuthenticateJWT(c.Request.Context(), credential)
		} else {
			tenant, err = svc.AuthenticateKey(c.Request.Context(), credential)
		}
		if err != nil {
			respondError(c, logger, err)
			return
		}

		c.Set(tenantContextKey, tenant)
		c.Next()
	}
}

// AdminAuth gates admin routes on the deployment-wide admin key.
func AdminAuth(svc *auth.Service, logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Admin-Key")
		if key == "" {
			key = credentialFrom(c)
		}
		if !svc.IsAdmin(key) {
			respondError(c, logger, &models.AuthError{Message: "admin access required", Forbidden: key != ""})
			return
		}
		c.Next()
	}
}

// tenantFrom returns the authenticated tenant set by TenantAuth.
func tenantFrom(c *gin.Context) *models.Tenant {
	v, ok := c.Get(tenantContextKey)
	if !ok {
		return nil
	}
	tenant, _ := v.(*models.Tenant)
	return tenant
}

// credentialFrom extracts the request credential: X-API-Key first, then a
// Bearer token.
func credentialFrom(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// looksLikeJWT distinguishes a signed token (three dot-separated segments)
// from an opaque API key.
func looksLikeJWT(credential string) bool {
	return strings.Count(credential, ".") == 2
}

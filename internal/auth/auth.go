// Package auth resolves request credentials to tenant identities. API keys
// are opaque bearer tokens stored as SHA-256 hashes; an optional JWT path
// accepts signed tokens carrying the tenant id.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/AITrekker/RAG-sub000/internal/models"
	"github.com/AITrekker/RAG-sub000/internal/observability"
)

// TenantLookup is the repository slice the service needs.
type TenantLookup interface {
	GetByAPIKeyHash(ctx context.Context, hash string) (*models.Tenant, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	TouchKeyUsage(ctx context.Context, id uuid.UUID) error
}

// Service authenticates API keys and JWTs. Resolved tenants are cached in a
// small expiring LRU so the hot path skips the catalog; the short TTL bounds
// how long a deactivated tenant can keep authenticating.
type Service struct {
	tenants   TenantLookup
	cache     *expirable.LRU[string, *models.Tenant]
	adminKey  string
	jwtSecret []byte
	logger    observability.Logger
}

func NewService(tenants TenantLookup, adminKey, jwtSecret string, cacheSize int, cacheTTL time.Duration, logger observability.Logger) *Service {
	var secret []byte
	if jwtSecret != "" {
		secret = []byte(jwtSecret)
	}
	return &Service{
		tenants:   tenants,
		cache:     expirable.NewLRU[string, *models.Tenant](cacheSize, nil, cacheTTL),
		adminKey:  adminKey,
		jwtSecret: secret,
		logger:    logger.WithPrefix("auth"),
	}
}

// HashKey returns the storage form of an API key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// GenerateAPIKey mints a new tenant key. The plaintext is returned exactly
// once; only the hash is stored.
func GenerateAPIKey(prefix string) (plaintext, hash string, err error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate api key: %w", err)
	}
	plaintext = prefix + "_" + hex.EncodeToString(buf)
	return plaintext, HashKey(plaintext), nil
}

// AuthenticateKey resolves an API key to its tenant. The error never reveals
// whether the key exists.
func (s *Service) AuthenticateKey(ctx context.Context, key string) (*models.Tenant, error) {
	if key == "" {
		return nil, &models.AuthError{Message: "missing API key"}
	}

	hash := HashKey(key)
	if tenant, ok := s.cache.Get(hash); ok {
		return s.checkActive(tenant)
	}

	tenant, err := s.tenants.GetByAPIKeyHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve api key: %w", err)
	}
	if tenant == nil {
		return nil, &models.AuthError{Message: "invalid API key"}
	}

	s.cache.Add(hash, tenant)

	// Usage bookkeeping is best-effort and off the request path.
	go func(id uuid.UUID) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.tenants.TouchKeyUsage(ctx, id); err != nil {
			s.logger.Debug("failed to touch key usage", map[string]interface{}{"error": err.Error()})
		}
	}(tenant.ID)

	return s.checkActive(tenant)
}

// AuthenticateJWT validates a signed token and resolves its tenant claim.
// Only available when a JWT secret is configured.
func (s *Service) AuthenticateJWT(ctx context.Context, tokenString string) (*models.Tenant, error) {
	if len(s.jwtSecret) == 0 {
		return nil, &models.AuthError{Message: "invalid API key"}
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, &models.AuthError{Message: "invalid token"}
	}

	rawID, ok := claims["tenant_id"].(string)
	if !ok {
		return nil, &models.AuthError{Message: "invalid token"}
	}
	tenantID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, &models.AuthError{Message: "invalid token"}
	}

	tenant, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		if models.IsNotFound(err) {
			return nil, &models.AuthError{Message: "invalid token"}
		}
		return nil, fmt.Errorf("failed to resolve token tenant: %w", err)
	}
	return s.checkActive(tenant)
}

// IsAdmin checks a presented admin credential in constant time.
func (s *Service) IsAdmin(key string) bool {
	if key == "" || s.adminKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.adminKey)) == 1
}

// Invalidate evicts a tenant's cache entries, used after deactivation.
func (s *Service) Invalidate(apiKeyHash string) {
	s.cache.Remove(apiKeyHash)
}

func (s *Service) checkActive(tenant *models.Tenant) (*models.Tenant, error) {
	if !tenant.IsActive {
		return nil, &models.AuthError{Message: "tenant is deactivated", Forbidden: true}
	}
	return tenant, nil
}

package access

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/httpx"
)

const (
	bucketsClaim = "buckets"
	cachePrefix  = "erag:access:"
)

type Options struct {
	JWTSecret    string
	RBACEndpoint string
	CacheTTL     time.Duration
	Timeout      time.Duration
}

// Resolver maps an Authorization header to the buckets its bearer may read.
// A signed "buckets" claim wins; otherwise the RBAC service is asked and the
// answer cached in Redis. When both sources are configured, a bearer that is
// not a JWT at all (an opaque session token) goes to RBAC, while a JWT with
// a bad signature or expiry is rejected.
type Resolver struct {
	secret   []byte
	rbac     *httpx.Client
	cache    *goredis.Client
	cacheTTL time.Duration
}

func NewResolver(opts Options, cache *goredis.Client) (*Resolver, error) {
	if opts.JWTSecret == "" && opts.RBACEndpoint == "" {
		return nil, domain.WrapError(domain.ErrConfiguration, "access resolver", errors.New("either a jwt secret or an rbac endpoint is required"))
	}
	r := &Resolver{cache: cache, cacheTTL: opts.CacheTTL}
	if opts.JWTSecret != "" {
		r.secret = []byte(opts.JWTSecret)
	}
	if opts.RBACEndpoint != "" {
		r.rbac = httpx.New("rbac", opts.RBACEndpoint, opts.Timeout)
	}
	if r.cacheTTL <= 0 {
		r.cacheTTL = time.Minute
	}
	return r, nil
}

func (r *Resolver) Buckets(ctx context.Context, authorization string) ([]string, error) {
	token, ok := bearerToken(authorization)
	if !ok {
		return nil, domain.WrapError(domain.ErrUnauthorized, "resolve buckets", errors.New("missing bearer token"))
	}

	if r.secret != nil {
		buckets, found, err := r.fromClaims(token)
		switch {
		case err != nil && r.rbac != nil && errors.Is(err, jwt.ErrTokenMalformed):
			// not a JWT, ask RBAC
		case err != nil:
			return nil, err
		case found || r.rbac == nil:
			return buckets, nil
		}
	}
	return r.fromRBAC(ctx, authorization)
}

func (r *Resolver) fromClaims(token string) ([]string, bool, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil || !parsed.Valid {
		return nil, false, domain.WrapError(domain.ErrUnauthorized, "resolve buckets", fmt.Errorf("invalid token: %w", err))
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, false, nil
	}
	raw, ok := claims[bucketsClaim].([]any)
	if !ok {
		return nil, false, nil
	}
	buckets := make([]string, 0, len(raw))
	for _, b := range raw {
		if s, ok := b.(string); ok && strings.TrimSpace(s) != "" {
			buckets = append(buckets, s)
		}
	}
	return buckets, true, nil
}

func (r *Resolver) fromRBAC(ctx context.Context, authorization string) ([]string, error) {
	key := cachePrefix + digest(authorization)
	if r.cache != nil {
		raw, err := r.cache.Get(ctx, key).Result()
		switch {
		case err == nil:
			var cached []string
			if json.Unmarshal([]byte(raw), &cached) == nil {
				return cached, nil
			}
		case !errors.Is(err, goredis.Nil):
			slog.Warn("access_cache_read_failed", "error", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.rbac.URL("/v1/buckets"), nil)
	if err != nil {
		return nil, fmt.Errorf("create rbac request: %w", err)
	}
	req.Header.Set("Authorization", authorization)
	resp, err := r.rbac.Do(req, "buckets")
	if err != nil {
		var statusErr *httpx.StatusError
		if errors.As(err, &statusErr) && (statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden) {
			return nil, domain.WrapError(domain.ErrUnauthorized, "resolve buckets", err)
		}
		return nil, httpx.Wrap("resolve buckets", err)
	}
	defer resp.Body.Close()

	var body struct {
		Buckets []string `json:"buckets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode rbac response: %w", err)
	}
	if body.Buckets == nil {
		body.Buckets = []string{}
	}

	if r.cache != nil {
		raw, _ := json.Marshal(body.Buckets)
		if err := r.cache.Set(ctx, key, raw, r.cacheTTL).Err(); err != nil {
			slog.Warn("access_cache_write_failed", "error", err)
		}
	}
	return body.Buckets, nil
}

func bearerToken(authorization string) (string, bool) {
	const prefix = "bearer "
	if len(authorization) <= len(prefix) || !strings.EqualFold(authorization[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(authorization[len(prefix):])
	return token, token != ""
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

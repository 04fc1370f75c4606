package access

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
)

func signed(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return "Bearer " + token
}

func setupCache(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestBucketsFromSignedClaim(t *testing.T) {
	resolver, err := NewResolver(Options{JWTSecret: "s3cret"}, nil)
	require.NoError(t, err)

	buckets, err := resolver.Buckets(context.Background(), signed(t, "s3cret", jwt.MapClaims{"sub": "u1", "buckets": []string{"hr", "finance"}}))
	require.NoError(t, err)
	assert.Equal(t, []string{"hr", "finance"}, buckets)
}

func TestWrongSignatureIsUnauthorized(t *testing.T) {
	resolver, err := NewResolver(Options{JWTSecret: "s3cret"}, nil)
	require.NoError(t, err)

	_, err = resolver.Buckets(context.Background(), signed(t, "other", jwt.MapClaims{"buckets": []string{"hr"}}))
	assert.True(t, domain.IsKind(err, domain.ErrUnauthorized), "got %v", err)
}

func TestMissingHeaderIsUnauthorized(t *testing.T) {
	resolver, err := NewResolver(Options{JWTSecret: "s3cret"}, nil)
	require.NoError(t, err)

	_, err = resolver.Buckets(context.Background(), "")
	assert.True(t, domain.IsKind(err, domain.ErrUnauthorized))
}

func TestRBACLookupIsCached(t *testing.T) {
	var calls atomic.Int32
	rbac := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/v1/buckets", r.URL.Path)
		assert.Equal(t, "Bearer opaque", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"buckets":["legal"]}`))
	}))
	defer rbac.Close()

	mr, cache := setupCache(t)
	resolver, err := NewResolver(Options{RBACEndpoint: rbac.URL, CacheTTL: 30 * time.Second}, cache)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		buckets, err := resolver.Buckets(context.Background(), "Bearer opaque")
		require.NoError(t, err)
		assert.Equal(t, []string{"legal"}, buckets)
	}
	assert.Equal(t, int32(1), calls.Load())

	mr.FastForward(31 * time.Second)
	_, err = resolver.Buckets(context.Background(), "Bearer opaque")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClaimWithoutBucketsFallsBackToRBAC(t *testing.T) {
	rbac := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"buckets":[]}`))
	}))
	defer rbac.Close()

	resolver, err := NewResolver(Options{JWTSecret: "s3cret", RBACEndpoint: rbac.URL}, nil)
	require.NoError(t, err)

	buckets, err := resolver.Buckets(context.Background(), signed(t, "s3cret", jwt.MapClaims{"sub": "u1"}))
	require.NoError(t, err)
	assert.NotNil(t, buckets)
	assert.Empty(t, buckets)
}

func TestOpaqueTokenFallsBackToRBACWhenSecretIsSet(t *testing.T) {
	var calls atomic.Int32
	rbac := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer session-7f3a", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"buckets":["ops"]}`))
	}))
	defer rbac.Close()

	_, cache := setupCache(t)
	resolver, err := NewResolver(Options{JWTSecret: "s3cret", RBACEndpoint: rbac.URL}, cache)
	require.NoError(t, err)

	buckets, err := resolver.Buckets(context.Background(), "Bearer session-7f3a")
	require.NoError(t, err)
	assert.Equal(t, []string{"ops"}, buckets)
	assert.Equal(t, int32(1), calls.Load())
}

func TestForgedJWTIsRejectedEvenWithRBAC(t *testing.T) {
	var calls atomic.Int32
	rbac := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"buckets":["ops"]}`))
	}))
	defer rbac.Close()

	resolver, err := NewResolver(Options{JWTSecret: "s3cret", RBACEndpoint: rbac.URL}, nil)
	require.NoError(t, err)

	_, err = resolver.Buckets(context.Background(), signed(t, "other", jwt.MapClaims{"buckets": []string{"hr"}}))
	assert.True(t, domain.IsKind(err, domain.ErrUnauthorized), "got %v", err)
	assert.Equal(t, int32(0), calls.Load())
}

func TestOpaqueTokenWithoutRBACIsUnauthorized(t *testing.T) {
	resolver, err := NewResolver(Options{JWTSecret: "s3cret"}, nil)
	require.NoError(t, err)

	_, err = resolver.Buckets(context.Background(), "Bearer session-7f3a")
	assert.True(t, domain.IsKind(err, domain.ErrUnauthorized), "got %v", err)
}

func TestRBACForbiddenIsUnauthorized(t *testing.T) {
	rbac := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusForbidden)
	}))
	defer rbac.Close()

	resolver, err := NewResolver(Options{RBACEndpoint: rbac.URL}, nil)
	require.NoError(t, err)
	_, err = resolver.Buckets(context.Background(), "Bearer x")
	assert.True(t, domain.IsKind(err, domain.ErrUnauthorized), "got %v", err)
}

func TestNewResolverNeedsASource(t *testing.T) {
	_, err := NewResolver(Options{}, nil)
	assert.True(t, domain.IsKind(err, domain.ErrConfiguration))
}

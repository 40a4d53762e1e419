package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}

// jwksServer serves the public half of key under kid and counts fetches.
type jwksServer struct {
	*httptest.Server
	fetches atomic.Int32
	failing atomic.Bool
}

func newJWKSServer(t *testing.T, key *rsa.PrivateKey, kid, cacheControl string) *jwksServer {
	t.Helper()
	s := &jwksServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.fetches.Add(1)
		if s.failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if cacheControl != "" {
			w.Header().Set("Cache-Control", cacheControl)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &key.PublicKey,
			KeyID:     kid,
			Algorithm: jwt.SigningMethodRS256.Alg(),
			Use:       "sig",
		}}})
	}))
	t.Cleanup(s.Close)
	return s
}

func newRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestJWKSCache_CachesUntilMaxAge(t *testing.T) {
	server := newJWKSServer(t, newRSAKey(t), "key1", "public, max-age=60")
	now := time.Unix(1_000_000, 0)
	cache := NewJWKSCache(server.URL, WithJWKSLogger(noopLogger{}), WithJWKSClock(func() time.Time { return now }))

	key, err := cache.Key(context.Background(), "key1")
	require.NoError(t, err)
	assert.IsType(t, &rsa.PublicKey{}, key)

	_, err = cache.Key(context.Background(), "key1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, server.fetches.Load())

	now = now.Add(61 * time.Second)
	_, err = cache.Key(context.Background(), "key1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, server.fetches.Load())
}

func TestJWKSCache_UnknownKidRefetches(t *testing.T) {
	server := newJWKSServer(t, newRSAKey(t), "key1", "")
	cache := NewJWKSCache(server.URL, WithJWKSLogger(noopLogger{}), WithJWKSRefreshInterval(time.Hour))

	_, err := cache.Key(context.Background(), "rotated")

	require.ErrorIs(t, err, ErrJWKSKeyNotFound)
	assert.EqualValues(t, 1, server.fetches.Load())
}

func TestJWKSCache_ServesStaleKeyWhenRefreshFails(t *testing.T) {
	server := newJWKSServer(t, newRSAKey(t), "key1", "max-age=10")
	now := time.Unix(1_000_000, 0)
	cache := NewJWKSCache(server.URL, WithJWKSLogger(noopLogger{}), WithJWKSClock(func() time.Time { return now }))

	_, err := cache.Key(context.Background(), "key1")
	require.NoError(t, err)

	server.failing.Store(true)
	now = now.Add(time.Minute)

	key, err := cache.Key(context.Background(), "key1")
	require.NoError(t, err)
	assert.NotNil(t, key)

	_, err = cache.Key(context.Background(), "key2")
	require.ErrorIs(t, err, ErrJWKSFetchFailed)
}

func TestJWKSCache_ConcurrentMissesShareOneFetch(t *testing.T) {
	release := make(chan struct{})
	key := newRSAKey(t)
	var fetches atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		<-release
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{Key: &key.PublicKey, KeyID: "k", Algorithm: "RS256", Use: "sig"}}})
	}))
	t.Cleanup(server.Close)
	cache := NewJWKSCache(server.URL, WithJWKSLogger(noopLogger{}), WithJWKSHTTPClient(server.Client()))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Key(context.Background(), "k")
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, fetches.Load())
}

func TestCacheMaxAge(t *testing.T) {
	cases := map[string]struct {
		header string
		want   time.Duration
		ok     bool
	}{
		"plain":      {header: "max-age=300", want: 5 * time.Minute, ok: true},
		"mixed case": {header: "public, Max-Age=30, must-revalidate", want: 30 * time.Second, ok: true},
		"zero":       {header: "max-age=0"},
		"garbage":    {header: "max-age=soon"},
		"absent":     {header: "no-store"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, ok := cacheMaxAge(tc.header)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

package server

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	c := DefaultConfig()
	c.Log.Level = "error"
	c.Storage.SQLite.Path = filepath.Join(t.TempDir(), "server.db")
	c.Auth.Secret = "test-secret"
	return c
}

func TestInit(t *testing.T) {
	tests := map[string]struct {
		arrange func(t *testing.T) Config
		assert  func(t *testing.T, s *Server, err error)
	}{
		"sqlite without redis": {
			arrange: testConfig,
			assert: func(t *testing.T, s *Server, err error) {
				require.NoError(t, err)
				assert.Nil(t, s.infra.redis.pubsub)
				assert.Nil(t, s.infra.redis.leaderboard)
			},
		},
		"with redis": {
			arrange: func(t *testing.T) Config {
				rs := miniredis.RunT(t)
				c := testConfig(t)
				c.Redis.Leaderboard.Addrs = []string{rs.Addr()}
				c.Redis.Pubsub.Addrs = []string{rs.Addr()}
				return c
			},
			assert: func(t *testing.T, s *Server, err error) {
				require.NoError(t, err)
				assert.NotNil(t, s.infra.redis.pubsub)
				assert.NotNil(t, s.infra.redis.leaderboard)
			},
		},
		"missing secret": {
			arrange: func(t *testing.T) Config {
				c := testConfig(t)
				c.Auth.Secret = ""
				return c
			},
			assert: func(t *testing.T, _ *Server, err error) {
				assert.ErrorContains(t, err, "secret")
			},
		},
		"unknown driver": {
			arrange: func(t *testing.T) Config {
				c := testConfig(t)
				c.Storage.Driver = "mongo"
				return c
			},
			assert: func(t *testing.T, _ *Server, err error) {
				assert.ErrorContains(t, err, "unknown storage driver")
			},
		},
		"bad log format": {
			arrange: func(t *testing.T) Config {
				c := testConfig(t)
				c.Log.Format = "xml"
				return c
			},
			assert: func(t *testing.T, _ *Server, err error) {
				assert.Error(t, err)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			s, err := Init(tt.arrange(t))
			if err == nil {
				t.Cleanup(s.Shutdown)
			}

			tt.assert(t, s, err)
		})
	}
}

func TestInit_ReleasesRedisOnStoreFailure(t *testing.T) {
	rs := miniredis.RunT(t)

	c := testConfig(t)
	c.Redis.Leaderboard.Addrs = []string{rs.Addr()}
	c.Redis.Pubsub.Addrs = []string{rs.Addr()}
	c.Storage.Driver = "mongo"

	_, err := Init(c)
	require.ErrorContains(t, err, "unknown storage driver")

	require.Eventually(t, func() bool { return rs.CurrentConnectionCount() == 0 }, time.Second, 10*time.Millisecond,
		"redis connections should be closed after a failed init")
}

func TestServer_HTTPRoutes(t *testing.T) {
	s, err := Init(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)

	tests := map[string]struct {
		req    func() *http.Request
		assert func(t *testing.T, w *httptest.ResponseRecorder)
	}{
		"health": {
			req: func() *http.Request { return httptest.NewRequest(http.MethodGet, "/health", nil) },
			assert: func(t *testing.T, w *httptest.ResponseRecorder) {
				assert.Equal(t, http.StatusOK, w.Code)
			},
		},
		"metrics": {
			req: func() *http.Request { return httptest.NewRequest(http.MethodGet, "/metrics", nil) },
			assert: func(t *testing.T, w *httptest.ResponseRecorder) {
				assert.Equal(t, http.StatusOK, w.Code)
				assert.Contains(t, w.Body.String(), "go_goroutines")
			},
		},
		"public leaderboard": {
			req: func() *http.Request { return httptest.NewRequest(http.MethodGet, "/leaderboard/total-score", nil) },
			assert: func(t *testing.T, w *httptest.ResponseRecorder) {
				assert.Equal(t, http.StatusOK, w.Code)
				assert.JSONEq(t, `[]`, w.Body.String())
			},
		},
		"cors preflight": {
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodOptions, "/game/start", nil)
				r.Header.Set("Origin", "http://localhost:3000")
				r.Header.Set("Access-Control-Request-Method", http.MethodPost)
				return r
			},
			assert: func(t *testing.T, w *httptest.ResponseRecorder) {
				assert.Less(t, w.Code, 300)
				assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			s.http.Handler.ServeHTTP(w, tt.req())
			tt.assert(t, w)
		})
	}
}

func TestMigrate(t *testing.T) {
	c := testConfig(t)
	require.NoError(t, Migrate(c))
	require.NoError(t, Migrate(c), "migrations are idempotent")
}

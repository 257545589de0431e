package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"

	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/api"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/event"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/identity"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/leaderboard"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/session"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/storage/sqlite"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/user"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	engine *gin.Engine
	api    *api.API
	eb     *event.Bus
}

type options func(c *api.Config)

func withGRPC(s *grpc.Server) options {
	return func(c *api.Config) {
		c.GRPC = s
	}
}

func withRedis(r api.Redis, prefix string) options {
	return func(c *api.Config) {
		c.Redis = r
		c.PubsubPrefix = prefix
	}
}

func makeFixture(t *testing.T, opts ...options) *fixture {
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	o, err := identity.NewOracle(identity.Config{Secret: "test-secret", TokenTTL: time.Hour})
	require.NoError(t, err)

	eb := event.NewBus()
	e := gin.New()

	c := api.Config{
		HTTP:        e,
		EventBus:    eb,
		Oracle:      o,
		User:        user.NewService(user.Config{Store: st, Tokens: o, Cost: bcrypt.MinCost}),
		Session:     session.NewService(session.Config{Store: st, EventBus: eb}),
		Leaderboard: leaderboard.NewService(leaderboard.Config{EventBus: eb, Store: st}),
	}

	for _, opt := range opts {
		opt(&c)
	}

	return &fixture{
		engine: e,
		api:    api.New(c),
		eb:     eb,
	}
}

// signup registers a user and logs in, returning the user ID and a bearer token.
func (f *fixture) signup(t *testing.T, login string) (string, string) {
	w := f.do(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"login":    login,
		"password": "securePassword123",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var u api.User
	decode(t, w, &u)

	form := url.Values{"username": {login}, "password": {"securePassword123"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	w = httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var tok struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	decode(t, w, &tok)
	require.Equal(t, "bearer", tok.TokenType)

	return u.UserID, tok.AccessToken
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	var r *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	} else {
		r = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

// play starts a game as the token's user and finishes it with the given scores.
func (f *fixture) play(t *testing.T, token string, scores map[string]int64) string {
	w := f.do(t, http.MethodPost, "/game/start", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var started struct {
		SessionID string `json:"session_id"`
	}
	decode(t, w, &started)

	w = f.do(t, http.MethodPost, "/game/finish", token, map[string]any{
		"session_id": started.SessionID,
		"scores":     scores,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	return started.SessionID
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

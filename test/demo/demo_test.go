//go:build integration_test

package demo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/api"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/domain"
)

// Runs against a server started with configs/local.yaml.
const (
	httpAddr = "http://localhost:8080"
	grpcAddr = "localhost:9090"
	prefix   = "clicker"
)

func TestGame(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		gc    = makeGameClient(t)
		users = make(map[string]string) // user ID -> token
	)

	updates := subscribeRedis(t, makeRedis(t), fmt.Sprintf("%s:leaderboard", prefix))

	for i := range 3 {
		id, token := signup(t, fmt.Sprintf("player-%d-%s", i, uuid.NewString()[:8]))
		users[id] = token
	}

	// Every user plays three rounds concurrently.
	for round := 1; round <= 3; round++ {
		var eg errgroup.Group
		for id, token := range users {
			eg.Go(func() error {
				ctx := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)

				started, err := gc.StartGame(ctx, &api.StartGameRequest{})
				if err != nil {
					return fmt.Errorf("user %q start: %w", id, err)
				}

				_, err = gc.FinishGame(ctx, &api.FinishGameRequest{
					SessionID: started.SessionID,
					Scores:    map[string]int64{id: int64(round * len(id))},
				})
				if err != nil {
					return fmt.Errorf("user %q finish: %w", id, err)
				}

				return nil
			})
		}

		require.NoError(t, eg.Wait())
	}

	select {
	case msg := <-updates:
		var n struct {
			Event string          `json:"event"`
			Data  api.Leaderboard `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
		require.Equal(t, domain.EventNameLeaderboardUpdated, n.Event)
		t.Logf("leaderboard:\n%s", formatLeaderboard(n.Data))
	case <-ctx.Done():
		t.Fatal("no leaderboard update received")
	}

	for id, token := range users {
		ctx := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
		resp, err := gc.GetLeaderboard(ctx, &api.GetLeaderboardRequest{Policy: string(domain.PolicySum), Self: true})
		require.NoError(t, err)
		require.Len(t, resp.Leaderboard.Entries, 1)
		require.EqualValues(t, 3, resp.Leaderboard.Entries[0].TotalGames, "user %s", id)
	}
}

func signup(t *testing.T, login string) (string, string) {
	body, err := json.Marshal(map[string]string{"login": login, "password": "securePassword123"})
	require.NoError(t, err)

	resp, err := http.Post(httpAddr+"/auth/signup", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var u api.User
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&u))

	form := url.Values{"username": {login}, "password": {"securePassword123"}}
	resp, err = http.Post(httpAddr+"/auth/token", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tok struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tok))

	return u.UserID, tok.AccessToken
}

func makeGameClient(t *testing.T) *api.GameClient {
	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return api.NewGameClient(conn)
}

func subscribeRedis(t *testing.T, rc redis.UniversalClient, channel string) <-chan *redis.Message {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	sub := rc.Subscribe(ctx, channel)
	t.Cleanup(func() { sub.Close() })

	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	return sub.Channel()
}

func makeRedis(t *testing.T) redis.UniversalClient {
	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{"localhost:6379"},
	})
	t.Cleanup(func() { r.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.Ping(ctx).Err(); err != nil {
		t.Fatal(err)
	}

	return r
}

func formatLeaderboard(l api.Leaderboard) string {
	var s string
	for _, e := range l.Entries {
		s += fmt.Sprintf("%d. %s: %d\n", e.Place, e.UserName, *e.TotalScores)
	}
	return s
}

package api_test

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/api"
)

func TestGRPC_GameService(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	f := makeFixture(t, withGRPC(srv))

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { cc.Close() })

	client := api.NewGameClient(cc)
	userID, token := f.signup(t, "player")

	authed := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)
	anon := context.Background()

	started, err := client.StartGame(authed, &api.StartGameRequest{})
	require.NoError(t, err)
	require.NotEmpty(t, started.SessionID)

	finishedAt := 1700000000.5
	finished, err := client.FinishGame(authed, &api.FinishGameRequest{
		SessionID:  started.SessionID,
		Scores:     map[string]int64{userID: 42},
		FinishedAt: &finishedAt,
	})
	require.NoError(t, err)
	assert.Equal(t, started.SessionID, finished.SessionID)

	got, err := client.GetSession(authed, &api.GetSessionRequest{SessionID: started.SessionID})
	require.NoError(t, err)
	assert.EqualValues(t, 42, got.Session.Scores[userID])
	require.NotNil(t, got.Session.FinishedAt)
	assert.InDelta(t, finishedAt, *got.Session.FinishedAt, 0.001)

	list, err := client.ListSessions(authed, &api.ListSessionsRequest{})
	require.NoError(t, err)
	require.Len(t, list.Sessions, 1)

	board, err := client.GetLeaderboard(anon, &api.GetLeaderboardRequest{Policy: "sum"})
	require.NoError(t, err)
	require.Len(t, board.Leaderboard.Entries, 1)
	assert.EqualValues(t, 42, *board.Leaderboard.Entries[0].TotalScores)

	self, err := client.GetLeaderboard(authed, &api.GetLeaderboardRequest{Policy: "best", Self: true})
	require.NoError(t, err)
	require.Len(t, self.Leaderboard.Entries, 1)
	assert.EqualValues(t, 1, self.Leaderboard.Entries[0].Place)

	tests := map[string]struct {
		call func() error
		code codes.Code
	}{
		"start without token": {
			call: func() error { _, err := client.StartGame(anon, &api.StartGameRequest{}); return err },
			code: codes.Unauthenticated,
		},
		"bad token": {
			call: func() error {
				ctx := metadata.AppendToOutgoingContext(anon, "authorization", "Bearer nope")
				_, err := client.ListSessions(ctx, &api.ListSessionsRequest{})
				return err
			},
			code: codes.Unauthenticated,
		},
		"self leaderboard without token": {
			call: func() error {
				_, err := client.GetLeaderboard(anon, &api.GetLeaderboardRequest{Policy: "sum", Self: true})
				return err
			},
			code: codes.Unauthenticated,
		},
		"unknown policy": {
			call: func() error {
				_, err := client.GetLeaderboard(anon, &api.GetLeaderboardRequest{Policy: "median"})
				return err
			},
			code: codes.InvalidArgument,
		},
		"unknown session": {
			call: func() error {
				_, err := client.GetSession(authed, &api.GetSessionRequest{SessionID: "missing"})
				return err
			},
			code: codes.NotFound,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.code, status.Code(tt.call()))
		})
	}
}

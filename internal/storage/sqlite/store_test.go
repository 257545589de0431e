package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/domain"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/errors"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/storage/sqlite"
)

var startedAt = time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC)

func TestOpen(t *testing.T) {
	_, err := sqlite.Open(" ")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "reopen.db")
	for range 2 {
		st, err := sqlite.Open(path)
		require.NoError(t, err, "migrations should apply once and be skipped afterwards")
		require.NoError(t, st.Close())
	}
}

func TestStore_Sessions(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)

	require.NoError(t, st.InsertSession(ctx, domain.Session{
		SessionID:    "s1",
		Participants: []string{"u1"},
		StartedAt:    startedAt,
	}))

	got, err := st.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, got.Participants)
	assert.Empty(t, got.Scores)
	assert.True(t, startedAt.Equal(got.StartedAt))
	assert.Nil(t, got.FinishedAt)

	finishedAt := startedAt.Add(time.Minute)
	require.NoError(t, st.FinishSession(ctx, domain.Session{
		SessionID:    "s1",
		Participants: []string{"u1", "u2"},
		Scores:       map[string]int64{"u1": 10, "u2": 20},
		StartedAt:    startedAt,
		FinishedAt:   &finishedAt,
	}))

	got, err = st.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, got.Participants)
	assert.Equal(t, map[string]int64{"u1": 10, "u2": 20}, got.Scores)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, finishedAt.Equal(*got.FinishedAt))

	list, err := st.ListSessions(ctx, "u2", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = st.ListSessions(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = st.GetSession(ctx, "missing")
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))

	err = st.FinishSession(ctx, domain.Session{SessionID: "missing", Scores: map[string]int64{"u1": 1}, Participants: []string{"u1"}, FinishedAt: &finishedAt})
	assert.True(t, errors.HasCode(err, errors.CodeNotFound), "got %v", err)
}

func TestStore_Users(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)

	u := domain.User{UserID: "u1", Login: "alice", PasswordHash: "h", CreatedAt: startedAt}
	require.NoError(t, st.InsertUser(ctx, u))

	err := st.InsertUser(ctx, domain.User{UserID: "u2", Login: "alice", PasswordHash: "h", CreatedAt: startedAt})
	assert.True(t, errors.HasCode(err, errors.CodeAlreadyExists), "got %v", err)

	got, err := st.GetUserByLogin(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)

	_, err = st.GetUser(ctx, "u2")
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestStore_AggregateLeaderboard(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)

	for _, id := range []string{"a", "b"} {
		require.NoError(t, st.InsertUser(ctx, domain.User{UserID: id, Login: "login-" + id, PasswordHash: "h", CreatedAt: startedAt}))
	}

	finish := func(id string, scores map[string]int64, done bool) {
		var participants []string
		for u := range scores {
			participants = append(participants, u)
		}

		ss := domain.Session{SessionID: id, Participants: participants, StartedAt: startedAt}
		require.NoError(t, st.InsertSession(ctx, ss))
		if !done {
			return
		}

		at := startedAt.Add(time.Hour)
		ss.Scores = scores
		ss.FinishedAt = &at
		require.NoError(t, st.FinishSession(ctx, ss))
	}

	finish("s1", map[string]int64{"a": 10, "b": 4}, true)
	finish("s2", map[string]int64{"a": 1, "b": 8}, true)
	finish("s3", map[string]int64{"b": 100}, false)

	sum, err := st.AggregateLeaderboard(ctx, domain.PolicySum, domain.Global(10))
	require.NoError(t, err)
	require.Len(t, sum, 2)
	assert.Equal(t, domain.LeaderboardEntry{UserID: "b", DisplayName: "login-b", GamesPlayed: 2, TotalScore: 12, BestScore: 8, Rank: 1}, sum[0])
	assert.Equal(t, domain.LeaderboardEntry{UserID: "a", DisplayName: "login-a", GamesPlayed: 2, TotalScore: 11, BestScore: 10, Rank: 2}, sum[1])

	best, err := st.AggregateLeaderboard(ctx, domain.PolicyBest, domain.Self("b"))
	require.NoError(t, err)
	require.Len(t, best, 1)
	assert.EqualValues(t, 2, best[0].Rank)
}

func openStore(t *testing.T) *sqlite.Store {
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

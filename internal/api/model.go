package api

import (
	"math"
	"time"

	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/domain"
)

// Wire shapes shared by HTTP, gRPC and pub/sub. Times are unix seconds.
type (
	Session struct {
		ID         string           `json:"id"`
		UserIDs    []string         `json:"user_id"`
		Scores     map[string]int64 `json:"scores"`
		StartedAt  float64          `json:"started_at"`
		FinishedAt *float64         `json:"finished_at"`
	}

	// LeaderboardEntry exposes totalScores for the sum policy and bestScore for the best policy.
	LeaderboardEntry struct {
		ID           string  `json:"id"`
		UserName     string  `json:"userName"`
		TotalGames   int64   `json:"totalGames"`
		TotalScores  *int64  `json:"totalScores,omitempty"`
		BestScore    *int64  `json:"bestScore,omitempty"`
		AverageScore float64 `json:"averageScore"`
		Place        int64   `json:"place"`
	}

	Leaderboard struct {
		Policy  string             `json:"policy"`
		Entries []LeaderboardEntry `json:"entries"`
	}

	User struct {
		UserID    string  `json:"user_id"`
		Login     string  `json:"login"`
		Email     string  `json:"email,omitempty"`
		CreatedAt float64 `json:"created_at"`
	}
)

func toSession(ss domain.Session) Session {
	out := Session{
		ID:        ss.SessionID,
		UserIDs:   ss.Participants,
		Scores:    ss.Scores,
		StartedAt: toUnix(ss.StartedAt),
	}

	if out.UserIDs == nil {
		out.UserIDs = []string{}
	}
	if out.Scores == nil {
		out.Scores = map[string]int64{}
	}
	if ss.FinishedAt != nil {
		f := toUnix(*ss.FinishedAt)
		out.FinishedAt = &f
	}

	return out
}

func toSessions(ss []domain.Session) []Session {
	out := make([]Session, 0, len(ss))
	for _, s := range ss {
		out = append(out, toSession(s))
	}
	return out
}

func toLeaderboardEntry(policy domain.Policy, e domain.LeaderboardEntry) LeaderboardEntry {
	out := LeaderboardEntry{
		ID:           e.UserID,
		UserName:     e.DisplayName,
		TotalGames:   e.GamesPlayed,
		AverageScore: e.AverageScore.InexactFloat64(),
		Place:        e.Rank,
	}

	switch policy {
	case domain.PolicySum:
		out.TotalScores = &e.TotalScore
	case domain.PolicyBest:
		out.BestScore = &e.BestScore
	}

	return out
}

func toLeaderboard(l domain.Leaderboard) Leaderboard {
	out := Leaderboard{
		Policy:  string(l.Policy),
		Entries: make([]LeaderboardEntry, 0, len(l.Entries)),
	}

	for _, e := range l.Entries {
		out.Entries = append(out.Entries, toLeaderboardEntry(l.Policy, e))
	}

	return out
}

func toUser(u domain.User) User {
	return User{
		UserID:    u.UserID,
		Login:     u.Login,
		Email:     u.Email,
		CreatedAt: toUnix(u.CreatedAt),
	}
}

func toUnix(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}

func fromUnix(sec float64) time.Time {
	return time.UnixMilli(int64(math.Round(sec * 1000))).UTC()
}
